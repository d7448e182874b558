// Package experiment buckets sessions into variants of running A/B tests
// and keeps impression/click/conversion counters per variant.
//
// Variant choice is a deterministic hash of sessionID+testID, so a session
// keeps its variant for as long as the test's variant list is unchanged.
// Traffic inclusion is a fresh coin flip per call; only the variant choice
// is sticky.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/leadpulse/leadpulse/internal/metrics"
	"github.com/leadpulse/leadpulse/internal/stats"
	"github.com/leadpulse/leadpulse/internal/store"
)

// ErrInvalidInteraction marks interaction input the caller got wrong: an
// unknown action, test, or variant. Anything else from Track is an
// internal failure.
var ErrInvalidInteraction = errors.New("invalid interaction")

// VariantResult is the per-variant slice of a test's results.
type VariantResult struct {
	VariantID      string  `json:"variant_id"`
	Impressions    int     `json:"impressions"`
	Clicks         int     `json:"clicks"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	Confidence     float64 `json:"confidence"`
	IsSignificant  bool    `json:"is_significant"`
}

// Results summarizes a test's interaction counters.
type Results struct {
	TestID   string          `json:"test_id"`
	Status   store.TestStatus `json:"status"`
	Variants []VariantResult `json:"variants"`
	// BestVariant is the variant with the highest conversion rate.
	BestVariant string `json:"best_variant,omitempty"`
}

// Service is the experiment assignment service. Stateless apart from the
// injected repositories.
type Service struct {
	tests        store.TestRepo
	interactions store.InteractionRepo
	now          func() time.Time
	coin         func() float64 // returns [0,1); swapped out in tests
}

func NewService(tests store.TestRepo, interactions store.InteractionRepo) *Service {
	return &Service{
		tests:        tests,
		interactions: interactions,
		now:          time.Now,
		coin:         rand.Float64,
	}
}

// Assign returns the session's variant for a test, or nil when the test is
// missing, not running, has no variants, or the session fell outside the
// traffic-inclusion percentage. Recording the impression is a side effect.
// Assign never fails the caller: lookup errors report as exclusion.
func (s *Service) Assign(ctx context.Context, testID, sessionID string) *store.Variant {
	t, err := s.tests.Get(ctx, testID)
	if err != nil {
		metrics.Assignments.WithLabelValues(testID, "excluded").Inc()
		return nil
	}
	if t.Status != store.StatusRunning || len(t.Variants) == 0 {
		metrics.Assignments.WithLabelValues(testID, "excluded").Inc()
		return nil
	}

	if s.coin()*100 >= float64(t.TrafficPct) {
		metrics.Assignments.WithLabelValues(testID, "excluded").Inc()
		return nil
	}

	idx := Bucket(sessionID, testID, len(t.Variants))
	v := t.Variants[idx]

	in := &store.Interaction{
		SessionID: sessionID,
		TestID:    testID,
		VariantID: v.ID,
		Action:    store.ActionImpression,
		CreatedAt: s.now(),
	}
	if err := s.interactions.Record(ctx, in); err == nil {
		metrics.Interactions.WithLabelValues(testID, store.ActionImpression).Inc()
	}
	metrics.Assignments.WithLabelValues(testID, "assigned").Inc()
	return &v
}

// Bucket deterministically maps (sessionID, testID) to a variant index
// using FNV-1a. Exported so the CTA engine's tests can predict picks.
// A non-positive variant count yields index 0.
func Bucket(sessionID, testID string, variantCount int) int {
	if variantCount <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	h.Write([]byte(testID))
	return int(h.Sum32() % uint32(variantCount))
}

// Track appends an interaction record. The action and the variant must be
// valid for the referenced test.
func (s *Service) Track(ctx context.Context, sessionID, testID, variantID, action string) error {
	switch action {
	case store.ActionImpression, store.ActionClick, store.ActionConversion:
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidInteraction, action)
	}

	t, err := s.tests.Get(ctx, testID)
	if err == store.ErrNotFound {
		return fmt.Errorf("%w: unknown test %q", ErrInvalidInteraction, testID)
	}
	if err != nil {
		return fmt.Errorf("failed to load test: %w", err)
	}
	if t.Variant(variantID) == nil {
		return fmt.Errorf("%w: test %q has no variant %q", ErrInvalidInteraction, testID, variantID)
	}

	in := &store.Interaction{
		SessionID: sessionID,
		TestID:    testID,
		VariantID: variantID,
		Action:    action,
		CreatedAt: s.now(),
	}
	if err := s.interactions.Record(ctx, in); err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	metrics.Interactions.WithLabelValues(testID, action).Inc()
	return nil
}

// Results aggregates per-variant counters for a test. Unknown tests yield
// nil rather than an error.
func (s *Service) Results(ctx context.Context, testID string) (*Results, error) {
	t, err := s.tests.Get(ctx, testID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}

	counts, err := s.interactions.CountByVariant(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}

	out := &Results{TestID: t.ID, Status: t.Status}
	bestRate := -1.0
	for _, v := range t.Variants {
		c := counts[v.ID]
		vr := VariantResult{
			VariantID:      v.ID,
			Impressions:    c.Impressions,
			Clicks:         c.Clicks,
			Conversions:    c.Conversions,
			ConversionRate: stats.Rate(c.Conversions, c.Impressions),
			Confidence:     stats.ConfidenceScore(c.Conversions, c.Impressions),
			IsSignificant:  t.MinSampleSize > 0 && c.Impressions >= t.MinSampleSize,
		}
		out.Variants = append(out.Variants, vr)
		if vr.ConversionRate > bestRate {
			bestRate = vr.ConversionRate
			out.BestVariant = v.ID
		}
	}
	return out, nil
}
