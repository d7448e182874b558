package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the repositories with Redis, suitable for multi-node
// deployments. Entities are JSON values under prefixed keys; interaction
// counts live in a per-test hash so increments never lose updates.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix for all engine keys (default: "lp:").
	Prefix   string
	PoolSize int
}

const mutateRetries = 16

func OpenRedis(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "lp:"
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisFromClient wraps an existing client. Useful for testing with
// miniredis.
func NewRedisFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "lp:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Sessions() SessionRepo           { return &redisSessions{s} }
func (s *RedisStore) Tests() TestRepo                 { return &redisTests{s} }
func (s *RedisStore) Interactions() InteractionRepo   { return &redisInteractions{s} }
func (s *RedisStore) Subscriptions() SubscriptionRepo { return &redisSubscriptions{s} }

func (s *RedisStore) sessionKey(id string) string      { return s.prefix + "session:" + id }
func (s *RedisStore) testKey(id string) string         { return s.prefix + "test:" + id }
func (s *RedisStore) testIndexKey() string             { return s.prefix + "tests" }
func (s *RedisStore) interactionsKey(id string) string { return s.prefix + "interactions:" + id }
func (s *RedisStore) countsKey(id string) string       { return s.prefix + "counts:" + id }
func (s *RedisStore) subKey(id string) string          { return s.prefix + "sub:" + id }
func (s *RedisStore) subIndexKey() string              { return s.prefix + "subs" }
func (s *RedisStore) subEmailKey(email string) string  { return s.prefix + "subs:email:" + email }

func getJSON[T any](ctx context.Context, client *redis.Client, key string) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return out, nil
}

// mutateJSON is the optimistic read-modify-write loop shared by the repos:
// WATCH the key, load (or create via makeNew), apply fn, write in a MULTI.
// A concurrent writer fails the transaction and we retry.
func mutateJSON[T any](ctx context.Context, client *redis.Client, key string,
	makeNew func() *T, fn func(*T) error) (*T, error) {

	var result *T
	txn := func(tx *redis.Tx) error {
		val := new(T)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			if makeNew == nil {
				return ErrNotFound
			}
			val = makeNew()
		case err != nil:
			return fmt.Errorf("redis get failed: %w", err)
		default:
			if err := json.Unmarshal(data, val); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", key, err)
			}
		}

		if err := fn(val); err != nil {
			return err
		}
		buf, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = val
		return nil
	}

	for i := 0; i < mutateRetries; i++ {
		err := client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("mutate %s: too much contention", key)
}

func putJSON(ctx context.Context, client *redis.Client, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := client.Set(ctx, key, buf, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

type redisSessions struct{ s *RedisStore }

func (r *redisSessions) Get(ctx context.Context, id string) (*Session, error) {
	return getJSON[Session](ctx, r.s.client, r.s.sessionKey(id))
}

func (r *redisSessions) Mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	return mutateJSON(ctx, r.s.client, r.s.sessionKey(id),
		func() *Session { return &Session{ID: id} }, fn)
}

func (r *redisSessions) Delete(ctx context.Context, id string) error {
	n, err := r.s.client.Del(ctx, r.s.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type redisTests struct{ s *RedisStore }

func (r *redisTests) Create(ctx context.Context, t *Test) error {
	ok, err := r.s.client.SetNX(ctx, r.s.testKey(t.ID), mustJSON(t), 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return ErrExists
	}
	if err := r.s.client.SAdd(ctx, r.s.testIndexKey(), t.ID).Err(); err != nil {
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	return nil
}

func (r *redisTests) Get(ctx context.Context, id string) (*Test, error) {
	return getJSON[Test](ctx, r.s.client, r.s.testKey(id))
}

func (r *redisTests) List(ctx context.Context) ([]*Test, error) {
	ids, err := r.s.client.SMembers(ctx, r.s.testIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	out := make([]*Test, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *redisTests) Mutate(ctx context.Context, id string, fn func(*Test) error) (*Test, error) {
	return mutateJSON(ctx, r.s.client, r.s.testKey(id), nil, func(t *Test) error {
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = time.Now()
		return nil
	})
}

func (r *redisTests) Delete(ctx context.Context, id string) error {
	n, err := r.s.client.Del(ctx, r.s.testKey(id), r.s.interactionsKey(id), r.s.countsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	if err := r.s.client.SRem(ctx, r.s.testIndexKey(), id).Err(); err != nil {
		return fmt.Errorf("redis srem failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type redisInteractions struct{ s *RedisStore }

func (r *redisInteractions) Record(ctx context.Context, in *Interaction) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction: %w", err)
	}
	pipe := r.s.client.TxPipeline()
	pipe.RPush(ctx, r.s.interactionsKey(in.TestID), buf)
	pipe.HIncrBy(ctx, r.s.countsKey(in.TestID), in.VariantID+":"+in.Action, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *redisInteractions) CountByVariant(ctx context.Context, testID string) (map[string]VariantCounts, error) {
	fields, err := r.s.client.HGetAll(ctx, r.s.countsKey(testID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	out := make(map[string]VariantCounts)
	for field, val := range fields {
		var n int
		if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
			continue
		}
		// field is "<variantID>:<action>"; actions never contain ':',
		// so split on the last colon
		sep := -1
		for i := len(field) - 1; i >= 0; i-- {
			if field[i] == ':' {
				sep = i
				break
			}
		}
		if sep < 0 {
			continue
		}
		variantID, action := field[:sep], field[sep+1:]
		c := out[variantID]
		switch action {
		case ActionImpression:
			c.Impressions += n
		case ActionClick:
			c.Clicks += n
		case ActionConversion:
			c.Conversions += n
		}
		out[variantID] = c
	}
	return out, nil
}

func (r *redisInteractions) List(ctx context.Context, testID string) ([]*Interaction, error) {
	vals, err := r.s.client.LRange(ctx, r.s.interactionsKey(testID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	out := make([]*Interaction, 0, len(vals))
	for _, val := range vals {
		var in Interaction
		if err := json.Unmarshal([]byte(val), &in); err != nil {
			return nil, fmt.Errorf("failed to unmarshal interaction: %w", err)
		}
		out = append(out, &in)
	}
	return out, nil
}

type redisSubscriptions struct{ s *RedisStore }

func (r *redisSubscriptions) Create(ctx context.Context, sub *Subscription) error {
	ok, err := r.s.client.SetNX(ctx, r.s.subKey(sub.ID), mustJSON(sub), 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return ErrExists
	}
	pipe := r.s.client.TxPipeline()
	pipe.SAdd(ctx, r.s.subIndexKey(), sub.ID)
	pipe.SAdd(ctx, r.s.subEmailKey(sub.Email), sub.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *redisSubscriptions) Get(ctx context.Context, id string) (*Subscription, error) {
	return getJSON[Subscription](ctx, r.s.client, r.s.subKey(id))
}

func (r *redisSubscriptions) FindActive(ctx context.Context, email, sequence string) (*Subscription, error) {
	ids, err := r.s.client.SMembers(ctx, r.s.subEmailKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	for _, id := range ids {
		sub, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sub.Sequence == sequence && sub.Status == SubActive {
			return sub, nil
		}
	}
	return nil, ErrNotFound
}

func (r *redisSubscriptions) ListActive(ctx context.Context) ([]*Subscription, error) {
	ids, err := r.s.client.SMembers(ctx, r.s.subIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	var out []*Subscription
	for _, id := range ids {
		sub, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sub.Status == SubActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *redisSubscriptions) Mutate(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error) {
	return mutateJSON(ctx, r.s.client, r.s.subKey(id), nil, fn)
}

func (r *redisSubscriptions) MarkUnsubscribed(ctx context.Context, email string) (int, error) {
	ids, err := r.s.client.SMembers(ctx, r.s.subEmailKey(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers failed: %w", err)
	}
	n := 0
	for _, id := range ids {
		// The closure reruns on WATCH contention, so the count comes
		// from the last attempt's observed status, never accumulated
		// inside the closure.
		changed := false
		_, err := r.Mutate(ctx, id, func(sub *Subscription) error {
			changed = sub.Status == SubActive || sub.Status == SubPaused
			if changed {
				sub.Status = SubUnsubscribed
			}
			return nil
		})
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func mustJSON(v any) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return buf
}
