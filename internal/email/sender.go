// Package email is the delivery collaborator boundary. The engine hands
// over fully rendered content; retry policy lives here, not in the
// scheduler.
package email

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sender delivers one rendered email. Implementations own their retry
// policy and report only the final outcome.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ConsoleSender logs instead of delivering. The default for local runs.
type ConsoleSender struct {
	Log *slog.Logger
}

func (c *ConsoleSender) Send(_ context.Context, to, subject, _ string) error {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("email delivered", "to", to, "subject", subject)
	return nil
}

const defaultMaxElapsed = 30 * time.Second

// RetrySender wraps another sender with bounded exponential backoff.
// Once MaxElapsed is exhausted the last error is returned and the caller
// decides what to do with the undelivered email.
type RetrySender struct {
	Inner      Sender
	MaxElapsed time.Duration
}

func (r *RetrySender) Send(ctx context.Context, to, subject, htmlBody string) error {
	maxElapsed := r.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	op := func() error {
		return r.Inner.Send(ctx, to, subject, htmlBody)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
