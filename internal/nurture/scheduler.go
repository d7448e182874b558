// Package nurture drives time-boxed email sequences. Each subscription is
// a small state machine advanced by Tick, which an external trigger
// invokes on a fixed cadence.
package nurture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpulse/leadpulse/internal/email"
	"github.com/leadpulse/leadpulse/internal/metrics"
	"github.com/leadpulse/leadpulse/internal/store"
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrUnknownSequence   = errors.New("unknown sequence type")
)

// maxConsecutiveFailures flags a subscription for manual review instead
// of retrying it silently forever.
const maxConsecutiveFailures = 5

// Scheduler advances nurture subscriptions. Tick invocations serialize on
// an internal mutex; request-path operations (Enroll, Unsubscribe) rely on
// the repository's per-id atomicity instead.
type Scheduler struct {
	subs    store.SubscriptionRepo
	sender  email.Sender
	library Library
	log     *slog.Logger
	now     func() time.Time

	tickMu sync.Mutex
}

func NewScheduler(subs store.SubscriptionRepo, sender email.Sender, library Library, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		subs:    subs,
		sender:  sender,
		library: library,
		log:     log,
		now:     time.Now,
	}
}

// SetClock injects a clock for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Enroll creates a subscription and immediately sends the first scheduled
// email. An active subscription for the same (email, sequence) pair makes
// this a rejected no-op.
func (s *Scheduler) Enroll(ctx context.Context, address, seqType string, leadScore int, payload map[string]string) (*store.Subscription, error) {
	seq, ok := s.library[seqType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSequence, seqType)
	}

	if _, err := s.subs.FindActive(ctx, address, seqType); err == nil {
		return nil, ErrAlreadySubscribed
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to check existing subscription: %w", err)
	}

	now := s.now()
	sub := &store.Subscription{
		ID:            uuid.NewString(),
		Email:         address,
		Sequence:      seqType,
		CurrentOffset: store.NotStarted,
		EnrolledAt:    now,
		Status:        store.SubActive,
		LeadScore:     leadScore,
		Payload:       payload,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	// First email goes out immediately. A failed send leaves the offset
	// at the sentinel so the next tick retries it.
	first := seq.Offsets[0]
	if err := s.deliver(ctx, sub, seq, first, now); err != nil {
		s.log.Warn("enrollment email failed, will retry on next tick",
			"email", address, "sequence", seqType, "error", err)
		return s.subs.Get(ctx, sub.ID)
	}
	return s.subs.Get(ctx, sub.ID)
}

// Tick advances every active subscription whose elapsed time has crossed
// its next scheduled offset, one offset per invocation. Missed offsets are
// caught up one per tick, never skipped. A failed send leaves the offset
// unchanged and never aborts the pass.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (sent int, err error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	metrics.TicksTotal.Inc()

	subs, err := s.subs.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	for _, sub := range subs {
		seq, ok := s.library[sub.Sequence]
		if !ok {
			s.log.Warn("subscription references unknown sequence", "id", sub.ID, "sequence", sub.Sequence)
			continue
		}
		elapsed := wholeDays(now.Sub(sub.EnrolledAt))
		next, due := seq.NextOffset(sub.CurrentOffset, elapsed)
		if !due {
			continue
		}
		if err := s.deliver(ctx, sub, seq, next, now); err != nil {
			s.log.Warn("nurture send failed", "id", sub.ID, "email", sub.Email,
				"sequence", sub.Sequence, "day", next, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// deliver renders and sends one offset's email, then advances the
// subscription. On send failure the offset is left unchanged and the
// consecutive-failure counter grows; crossing the bound parks the
// subscription in needs_review.
func (s *Scheduler) deliver(ctx context.Context, sub *store.Subscription, seq Sequence, offset int, now time.Time) error {
	subject, body, err := seq.Render(offset, EmailData{
		Email:     sub.Email,
		LeadScore: sub.LeadScore,
		Payload:   sub.Payload,
	})
	if err == nil {
		err = s.sender.Send(ctx, sub.Email, subject, body)
	}

	if err != nil {
		metrics.EmailsFailed.WithLabelValues(sub.Sequence).Inc()
		if _, mErr := s.subs.Mutate(ctx, sub.ID, func(cur *store.Subscription) error {
			cur.SendFailures++
			if cur.SendFailures >= maxConsecutiveFailures {
				cur.Status = store.SubNeedsReview
			}
			return nil
		}); mErr != nil {
			s.log.Error("failed to record send failure", "id", sub.ID, "error", mErr)
		}
		return err
	}

	metrics.EmailsSent.WithLabelValues(sub.Sequence).Inc()
	_, err = s.subs.Mutate(ctx, sub.ID, func(cur *store.Subscription) error {
		if cur.Status != store.SubActive {
			return nil // unsubscribed or paused mid-flight; don't advance
		}
		if offset <= cur.CurrentOffset {
			return nil // already advanced past this offset
		}
		cur.CurrentOffset = offset
		sent := now
		cur.LastSentAt = &sent
		cur.SendFailures = 0
		if offset == seq.LastOffset() {
			cur.Status = store.SubCompleted
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to advance subscription: %w", err)
	}
	return nil
}

// Unsubscribe marks every active or paused subscription for the email
// unsubscribed. Tick always skips them afterwards.
func (s *Scheduler) Unsubscribe(ctx context.Context, address string) (int, error) {
	return s.subs.MarkUnsubscribed(ctx, address)
}

// Pause suspends an active subscription.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	_, err := s.subs.Mutate(ctx, id, func(sub *store.Subscription) error {
		if sub.Status != store.SubActive {
			return fmt.Errorf("subscription is %s, not active", sub.Status)
		}
		sub.Status = store.SubPaused
		return nil
	})
	return err
}

// Resume reactivates a paused or needs_review subscription, clearing its
// failure count.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	_, err := s.subs.Mutate(ctx, id, func(sub *store.Subscription) error {
		if sub.Status != store.SubPaused && sub.Status != store.SubNeedsReview {
			return fmt.Errorf("subscription is %s, not paused", sub.Status)
		}
		sub.Status = store.SubActive
		sub.SendFailures = 0
		return nil
	})
	return err
}

func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
