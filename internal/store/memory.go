package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const lockStripes = 64

// stripedLocks serializes mutations per entity id without a global lock.
// Ids hashing to different stripes never contend.
type stripedLocks [lockStripes]sync.Mutex

func (sl *stripedLocks) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &sl[h.Sum32()%lockStripes]
	mu.Lock()
	return mu
}

// MemoryStore is the default backend: process-local maps with per-id
// mutation locks. It doubles as the fake for unit tests.
type MemoryStore struct {
	sessions      memSessions
	tests         memTests
	interactions  memInteractions
	subscriptions memSubscriptions
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions:      memSessions{m: make(map[string]*Session)},
		tests:         memTests{m: make(map[string]*Test)},
		interactions:  memInteractions{byTest: make(map[string][]*Interaction)},
		subscriptions: memSubscriptions{m: make(map[string]*Subscription)},
	}
}

func (s *MemoryStore) Sessions() SessionRepo           { return &s.sessions }
func (s *MemoryStore) Tests() TestRepo                 { return &s.tests }
func (s *MemoryStore) Interactions() InteractionRepo   { return &s.interactions }
func (s *MemoryStore) Subscriptions() SubscriptionRepo { return &s.subscriptions }
func (s *MemoryStore) Close() error                    { return nil }

type memSessions struct {
	mu    sync.RWMutex
	locks stripedLocks
	m     map[string]*Session
}

func (r *memSessions) Get(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *memSessions) Mutate(_ context.Context, id string, fn func(*Session) error) (*Session, error) {
	mu := r.locks.lock(id)
	defer mu.Unlock()

	r.mu.RLock()
	cur := r.m[id]
	r.mu.RUnlock()

	next := cur.Clone()
	if next == nil {
		next = &Session{ID: id}
	}
	if err := fn(next); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.m[id] = next
	r.mu.Unlock()
	return next.Clone(), nil
}

func (r *memSessions) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return ErrNotFound
	}
	delete(r.m, id)
	return nil
}

type memTests struct {
	mu    sync.RWMutex
	locks stripedLocks
	m     map[string]*Test
}

func (r *memTests) Create(_ context.Context, t *Test) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[t.ID]; ok {
		return ErrExists
	}
	r.m[t.ID] = t.Clone()
	return nil
}

func (r *memTests) Get(_ context.Context, id string) (*Test, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (r *memTests) List(_ context.Context) ([]*Test, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Test, 0, len(r.m))
	for _, t := range r.m {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memTests) Mutate(_ context.Context, id string, fn func(*Test) error) (*Test, error) {
	mu := r.locks.lock(id)
	defer mu.Unlock()

	r.mu.RLock()
	cur := r.m[id]
	r.mu.RUnlock()
	if cur == nil {
		return nil, ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()

	r.mu.Lock()
	r.m[id] = next
	r.mu.Unlock()
	return next.Clone(), nil
}

func (r *memTests) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return ErrNotFound
	}
	delete(r.m, id)
	return nil
}

type memInteractions struct {
	mu     sync.Mutex
	byTest map[string][]*Interaction
}

func (r *memInteractions) Record(_ context.Context, in *Interaction) error {
	cp := *in
	cp.Context = cloneMap(in.Context)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTest[in.TestID] = append(r.byTest[in.TestID], &cp)
	return nil
}

func (r *memInteractions) CountByVariant(_ context.Context, testID string) (map[string]VariantCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]VariantCounts)
	for _, in := range r.byTest[testID] {
		c := out[in.VariantID]
		switch in.Action {
		case ActionImpression:
			c.Impressions++
		case ActionClick:
			c.Clicks++
		case ActionConversion:
			c.Conversions++
		}
		out[in.VariantID] = c
	}
	return out, nil
}

func (r *memInteractions) List(_ context.Context, testID string) ([]*Interaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.byTest[testID]
	out := make([]*Interaction, len(src))
	for i, in := range src {
		cp := *in
		cp.Context = cloneMap(in.Context)
		out[i] = &cp
	}
	return out, nil
}

type memSubscriptions struct {
	mu    sync.RWMutex
	locks stripedLocks
	m     map[string]*Subscription
}

func (r *memSubscriptions) Create(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[sub.ID]; ok {
		return ErrExists
	}
	r.m[sub.ID] = sub.Clone()
	return nil
}

func (r *memSubscriptions) Get(_ context.Context, id string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (r *memSubscriptions) FindActive(_ context.Context, email, sequence string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.m {
		if sub.Email == email && sub.Sequence == sequence && sub.Status == SubActive {
			return sub.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memSubscriptions) ListActive(_ context.Context) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for _, sub := range r.m {
		if sub.Status == SubActive {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	return out, nil
}

func (r *memSubscriptions) Mutate(_ context.Context, id string, fn func(*Subscription) error) (*Subscription, error) {
	mu := r.locks.lock(id)
	defer mu.Unlock()

	r.mu.RLock()
	cur := r.m[id]
	r.mu.RUnlock()
	if cur == nil {
		return nil, ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.m[id] = next
	r.mu.Unlock()
	return next.Clone(), nil
}

func (r *memSubscriptions) MarkUnsubscribed(_ context.Context, email string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, sub := range r.m {
		if sub.Email == email && (sub.Status == SubActive || sub.Status == SubPaused) {
			cp := sub.Clone()
			cp.Status = SubUnsubscribed
			r.m[id] = cp
			n++
		}
	}
	return n, nil
}
