package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/store"
)

// runStoreSuite exercises the behavior every backend must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open(t)) })
	t.Run("Tests", func(t *testing.T) { testTests(t, open(t)) })
	t.Run("Interactions", func(t *testing.T) { testInteractions(t, open(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, open(t)) })
	t.Run("ConcurrentMutate", func(t *testing.T) { testConcurrentMutate(t, open(t)) })
}

// testConcurrentMutate checks the per-id serialization every backend
// promises: overlapping Mutate calls on one id must all land, with no
// lost updates and no errors surfaced to callers.
func testConcurrentMutate(t *testing.T, st store.Store) {
	ctx := context.Background()
	repo := st.Sessions()

	const workers = 8
	const perWorker = 5
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := repo.Mutate(ctx, "shared", func(s *store.Session) error {
					s.Score++
					return nil
				})
				if err != nil {
					t.Errorf("Mutate failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Score != workers*perWorker {
		t.Errorf("lost updates: score %d, want %d", got.Score, workers*perWorker)
	}
}

func testSessions(t *testing.T, st store.Store) {
	ctx := context.Background()
	repo := st.Sessions()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get on missing id should return ErrNotFound, got %v", err)
	}

	// Mutate creates the session when absent.
	sess, err := repo.Mutate(ctx, "s1", func(s *store.Session) error {
		s.StartedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		s.Score = 35
		s.Role = "CTO"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if sess.ID != "s1" {
		t.Errorf("created session should carry the id, got %q", sess.ID)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Score != 35 || got.Role != "CTO" {
		t.Errorf("unexpected session state: score %d role %q", got.Score, got.Role)
	}

	// A closure error leaves the stored state untouched.
	boom := errors.New("boom")
	if _, err := repo.Mutate(ctx, "s1", func(s *store.Session) error {
		s.Score = 99
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected closure error back, got %v", err)
	}
	got, _ = repo.Get(ctx, "s1")
	if got.Score != 35 {
		t.Errorf("failed mutation must not persist, score %d", got.Score)
	}

	// Callers can't reach stored state through returned pointers.
	got.Score = 77
	again, _ := repo.Get(ctx, "s1")
	if again.Score != 35 {
		t.Errorf("stored session was mutated through a returned copy")
	}

	if err := repo.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted session still readable, err %v", err)
	}
	if err := repo.Delete(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleting twice should return ErrNotFound, got %v", err)
	}
}

func testTests(t *testing.T, st store.Store) {
	ctx := context.Background()
	repo := st.Tests()

	def := &store.Test{
		ID: "homepage-hero",
		Variants: []store.Variant{
			{ID: "control", Payload: map[string]string{"headline": "A"}},
			{ID: "variant-b", Payload: map[string]string{"headline": "B"}},
		},
		Status:        store.StatusRunning,
		TrafficPct:    100,
		MinSampleSize: 100,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.Create(ctx, def); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, def); !errors.Is(err, store.ErrExists) {
		t.Errorf("duplicate Create should return ErrExists, got %v", err)
	}

	got, err := repo.Get(ctx, "homepage-hero")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Variants) != 2 || got.Variants[1].Payload["headline"] != "B" {
		t.Errorf("variants did not round-trip: %+v", got.Variants)
	}
	if got.Status != store.StatusRunning {
		t.Errorf("expected running status, got %s", got.Status)
	}

	if _, err := repo.Mutate(ctx, "nope", func(*store.Test) error { return nil }); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Mutate on missing test should return ErrNotFound, got %v", err)
	}

	updated, err := repo.Mutate(ctx, "homepage-hero", func(tt *store.Test) error {
		tt.Status = store.StatusCompleted
		tt.WinnerVariant = "variant-b"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if updated.Status != store.StatusCompleted || updated.WinnerVariant != "variant-b" {
		t.Errorf("mutation not applied: %+v", updated)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 test, got %d", len(list))
	}

	if err := repo.Delete(ctx, "homepage-hero"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if list, _ := repo.List(ctx); len(list) != 0 {
		t.Errorf("deleted test still listed")
	}
}

func testInteractions(t *testing.T, st store.Store) {
	ctx := context.Background()
	repo := st.Interactions()

	record := func(variantID, action string) {
		t.Helper()
		err := repo.Record(ctx, &store.Interaction{
			SessionID: "s1",
			TestID:    "hero",
			VariantID: variantID,
			Action:    action,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	for i := 0; i < 10; i++ {
		record("control", store.ActionImpression)
	}
	record("control", store.ActionClick)
	record("control", store.ActionConversion)
	for i := 0; i < 8; i++ {
		record("variant-b", store.ActionImpression)
	}
	record("variant-b", store.ActionConversion)
	record("variant-b", store.ActionConversion)

	counts, err := repo.CountByVariant(ctx, "hero")
	if err != nil {
		t.Fatalf("CountByVariant failed: %v", err)
	}
	want := map[string]store.VariantCounts{
		"control":   {Impressions: 10, Clicks: 1, Conversions: 1},
		"variant-b": {Impressions: 8, Conversions: 2},
	}
	for id, w := range want {
		if counts[id] != w {
			t.Errorf("counts[%q] = %+v, want %+v", id, counts[id], w)
		}
	}

	list, err := repo.List(ctx, "hero")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 22 {
		t.Errorf("expected 22 interactions, got %d", len(list))
	}

	empty, err := repo.CountByVariant(ctx, "no-such-test")
	if err != nil {
		t.Fatalf("CountByVariant on unknown test failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown test should have no counts, got %v", empty)
	}
}

func testSubscriptions(t *testing.T, st store.Store) {
	ctx := context.Background()
	repo := st.Subscriptions()

	sub := &store.Subscription{
		ID:            "sub-1",
		Email:         "lead@example.com",
		Sequence:      "quickwin",
		CurrentOffset: store.NotStarted,
		EnrolledAt:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Status:        store.SubActive,
		LeadScore:     42,
	}
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, sub); !errors.Is(err, store.ErrExists) {
		t.Errorf("duplicate Create should return ErrExists, got %v", err)
	}

	got, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentOffset != store.NotStarted || got.LeadScore != 42 {
		t.Errorf("subscription did not round-trip: %+v", got)
	}

	found, err := repo.FindActive(ctx, "lead@example.com", "quickwin")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if found.ID != "sub-1" {
		t.Errorf("FindActive returned %q", found.ID)
	}
	if _, err := repo.FindActive(ctx, "lead@example.com", "onboarding"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindActive for other sequence should miss, got %v", err)
	}

	other := &store.Subscription{
		ID:            "sub-2",
		Email:         "other@example.com",
		Sequence:      "reengage",
		CurrentOffset: store.NotStarted,
		EnrolledAt:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Status:        store.SubCompleted,
	}
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "sub-1" {
		t.Errorf("ListActive should return only the active subscription, got %+v", active)
	}

	now := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	updated, err := repo.Mutate(ctx, "sub-1", func(s *store.Subscription) error {
		s.CurrentOffset = 0
		s.LastSentAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if updated.CurrentOffset != 0 || updated.LastSentAt == nil {
		t.Errorf("mutation not applied: %+v", updated)
	}

	n, err := repo.MarkUnsubscribed(ctx, "lead@example.com")
	if err != nil {
		t.Fatalf("MarkUnsubscribed failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 unsubscribed, got %d", n)
	}
	got, _ = repo.Get(ctx, "sub-1")
	if got.Status != store.SubUnsubscribed {
		t.Errorf("expected unsubscribed status, got %s", got.Status)
	}
	// Completed subscriptions are left alone.
	if n, _ := repo.MarkUnsubscribed(ctx, "other@example.com"); n != 0 {
		t.Errorf("completed subscription should not be touched, changed %d", n)
	}
}
