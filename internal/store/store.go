package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// SessionRepo persists visitor sessions. Mutate is the atomic
// read-modify-write primitive: the repository loads the session (creating an
// empty one with the given id if absent), applies fn, and stores the result.
// Concurrent Mutate calls for the same id serialize; different ids do not
// block each other.
type SessionRepo interface {
	Get(ctx context.Context, id string) (*Session, error)
	Mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// TestRepo persists A/B test definitions.
type TestRepo interface {
	Create(ctx context.Context, t *Test) error
	Get(ctx context.Context, id string) (*Test, error)
	List(ctx context.Context) ([]*Test, error)
	Mutate(ctx context.Context, id string, fn func(*Test) error) (*Test, error)
	Delete(ctx context.Context, id string) error
}

// InteractionRepo is an append-only log of experiment interactions with a
// per-variant aggregation view.
type InteractionRepo interface {
	Record(ctx context.Context, in *Interaction) error
	CountByVariant(ctx context.Context, testID string) (map[string]VariantCounts, error)
	List(ctx context.Context, testID string) ([]*Interaction, error)
}

// SubscriptionRepo persists nurture subscriptions.
type SubscriptionRepo interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// FindActive returns the active subscription for (email, sequence),
	// or ErrNotFound.
	FindActive(ctx context.Context, email, sequence string) (*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)
	Mutate(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error)
	// MarkUnsubscribed flips every active or paused subscription for the
	// email to unsubscribed, returning how many it changed.
	MarkUnsubscribed(ctx context.Context, email string) (int, error)
}

// Store bundles the repositories behind one backend.
type Store interface {
	Sessions() SessionRepo
	Tests() TestRepo
	Interactions() InteractionRepo
	Subscriptions() SubscriptionRepo
	Close() error
}
