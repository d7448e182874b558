package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/leadpulse/leadpulse/internal/store"
)

func openTestRedis(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisFromClient(client, "")
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store {
		return openTestRedis(t)
	})
}

func TestRedisStore_MarkUnsubscribedCountUnderContention(t *testing.T) {
	st := openTestRedis(t)
	ctx := context.Background()
	repo := st.Subscriptions()

	sub := &store.Subscription{
		ID:       "sub-1",
		Email:    "lead@example.com",
		Sequence: "quickwin",
		Status:   store.SubActive,
	}
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A concurrent writer on the same key forces the optimistic loop to
	// retry; the reported count must still reflect one transition.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			repo.Mutate(ctx, "sub-1", func(s *store.Subscription) error {
				s.LeadScore++
				return nil
			})
		}
	}()

	n, err := repo.MarkUnsubscribed(ctx, "lead@example.com")
	<-done
	if err != nil {
		t.Fatalf("MarkUnsubscribed failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected exactly 1 unsubscribed, got %d", n)
	}

	got, _ := repo.Get(ctx, "sub-1")
	if got.Status != store.SubUnsubscribed {
		t.Errorf("expected unsubscribed status, got %s", got.Status)
	}
	// Nothing left to change on a second pass.
	if n, _ := repo.MarkUnsubscribed(ctx, "lead@example.com"); n != 0 {
		t.Errorf("second pass should change nothing, got %d", n)
	}
}

func TestRedisStore_CountsSurviveOddVariantIDs(t *testing.T) {
	st := openTestRedis(t)
	ctx := context.Background()
	repo := st.Interactions()

	// Variant ids may themselves contain colons; the counts hash must
	// still attribute actions correctly.
	err := repo.Record(ctx, &store.Interaction{
		SessionID: "s1",
		TestID:    "hero",
		VariantID: "v:1",
		Action:    store.ActionImpression,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	counts, err := repo.CountByVariant(ctx, "hero")
	if err != nil {
		t.Fatalf("CountByVariant failed: %v", err)
	}
	if counts["v:1"].Impressions != 1 {
		t.Errorf("expected 1 impression for v:1, got %+v", counts)
	}
}
