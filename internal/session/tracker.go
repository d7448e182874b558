// Package session is the durable record of one visitor's activity across
// page views and interactions. All operations are idempotent-tolerant:
// anything arriving for an unknown session id auto-creates a minimal
// session rather than failing, so out-of-order client delivery is safe.
package session

import (
	"context"
	"strconv"
	"time"

	"github.com/leadpulse/leadpulse/internal/scoring"
	"github.com/leadpulse/leadpulse/internal/store"
)

// Event names that set scoring flags directly.
const (
	EventResourceDownload = "resource_download"
	EventCalculatorUsed   = "calculator_used"
	EventEmailSignup      = "email_signup"
	// EventLeadIdentified carries "role" and "company_size" properties
	// captured from forms.
	EventLeadIdentified = "lead_identified"
)

// EventScrollMilestone is the synthetic event appended when a page view
// first crosses a scroll threshold.
const EventScrollMilestone = "scroll_milestone"

var scrollMilestones = []int{25, 50, 75, 90}

// SourceInfo is the acquisition context captured when a session starts.
type SourceInfo struct {
	TrafficSource string
	UTM           map[string]string
	Device        store.DeviceClass
}

// Tracker mutates sessions through a SessionRepo. The repo's per-id
// Mutate gives every operation atomic read-modify-write semantics.
type Tracker struct {
	repo store.SessionRepo
	now  func() time.Time
}

func NewTracker(repo store.SessionRepo) *Tracker {
	return &Tracker{repo: repo, now: time.Now}
}

// NewTrackerAt injects a clock. Used by tests.
func NewTrackerAt(repo store.SessionRepo, now func() time.Time) *Tracker {
	return &Tracker{repo: repo, now: now}
}

// StartSession creates a session if absent; a no-op when the id exists.
func (t *Tracker) StartSession(ctx context.Context, id string, src SourceInfo) error {
	_, err := t.repo.Mutate(ctx, id, func(s *store.Session) error {
		if !s.StartedAt.IsZero() {
			return nil // already started
		}
		now := t.now()
		s.StartedAt = now
		s.LastSeenAt = now
		s.TrafficSource = src.TrafficSource
		s.Device = src.Device
		if len(src.UTM) > 0 {
			s.UTM = make(map[string]string, len(src.UTM))
			for k, v := range src.UTM {
				s.UTM[k] = v
			}
		}
		return nil
	})
	return err
}

// RecordPageView closes the current page view, computing its dwell time,
// and appends a new current one.
func (t *Tracker) RecordPageView(ctx context.Context, id, page, url string) error {
	_, err := t.repo.Mutate(ctx, id, func(s *store.Session) error {
		now := t.touch(s)
		if cur := currentPageView(s); cur != nil {
			exited := now
			cur.ExitedAt = &exited
			cur.DwellSeconds = exited.Sub(cur.EnteredAt).Seconds()
		}
		s.PageViews = append(s.PageViews, store.PageView{
			Page:      page,
			URL:       url,
			EnteredAt: now,
		})
		s.Score = scoring.Score(contextOf(s))
		return nil
	})
	return err
}

// RecordScrollDepth raises the current page view's scroll watermark. The
// watermark is monotonic: a lower depth never overwrites a higher one.
// Crossing 25/50/75/90 appends a milestone event once per threshold per
// page view.
func (t *Tracker) RecordScrollDepth(ctx context.Context, id string, depth int) error {
	_, err := t.repo.Mutate(ctx, id, func(s *store.Session) error {
		now := t.touch(s)
		cur := currentPageView(s)
		if cur == nil || depth <= cur.MaxScrollDepth {
			return nil
		}
		cur.MaxScrollDepth = depth
		for _, threshold := range scrollMilestones {
			if depth < threshold || hasMilestone(cur, threshold) {
				continue
			}
			cur.ScrollMilestones = append(cur.ScrollMilestones, threshold)
			s.Events = append(s.Events, store.Event{
				Name: EventScrollMilestone,
				Properties: map[string]string{
					"threshold": strconv.Itoa(threshold),
					"page":      cur.Page,
				},
				CreatedAt: now,
			})
		}
		s.Score = scoring.Score(contextOf(s))
		return nil
	})
	return err
}

// RecordEvent appends a named event. Some names also set scoring flags
// or firmographic fields on the session.
func (t *Tracker) RecordEvent(ctx context.Context, id, name string, properties map[string]string) error {
	_, err := t.repo.Mutate(ctx, id, func(s *store.Session) error {
		now := t.touch(s)
		s.Events = append(s.Events, store.Event{
			Name:       name,
			Properties: properties,
			CreatedAt:  now,
		})
		switch name {
		case EventResourceDownload:
			s.HasDownloadedResource = true
		case EventCalculatorUsed:
			s.HasUsedCalculator = true
		case EventEmailSignup:
			s.IsEmailSubscriber = true
		case EventLeadIdentified:
			if role := properties["role"]; role != "" {
				s.Role = role
			}
			if size := properties["company_size"]; size != "" {
				s.CompanySize = size
			}
		}
		s.Score = scoring.Score(contextOf(s))
		return nil
	})
	return err
}

// Context returns the session's derived view. An unknown id yields a zero
// context, not an error; tracking queries are best-effort.
func (t *Tracker) Context(ctx context.Context, id string) (scoring.Context, error) {
	s, err := t.repo.Get(ctx, id)
	if err == store.ErrNotFound {
		return scoring.Context{SessionID: id}, nil
	}
	if err != nil {
		return scoring.Context{}, err
	}
	return contextOf(s), nil
}

// touch ensures the session exists, keeps timestamps non-decreasing, and
// advances last-activity. Returns the effective now.
func (t *Tracker) touch(s *store.Session) time.Time {
	now := t.now()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	if now.Before(s.LastSeenAt) {
		now = s.LastSeenAt
	}
	s.LastSeenAt = now
	return now
}

func currentPageView(s *store.Session) *store.PageView {
	if len(s.PageViews) == 0 {
		return nil
	}
	last := &s.PageViews[len(s.PageViews)-1]
	if last.ExitedAt != nil {
		return nil
	}
	return last
}

func hasMilestone(pv *store.PageView, threshold int) bool {
	for _, m := range pv.ScrollMilestones {
		if m == threshold {
			return true
		}
	}
	return false
}

// contextOf derives the scoring view from raw session state.
func contextOf(s *store.Session) scoring.Context {
	ctx := scoring.Context{
		SessionID:             s.ID,
		PageViews:             len(s.PageViews),
		TimeOnSite:            s.LastSeenAt.Sub(s.StartedAt).Seconds(),
		HasDownloadedResource: s.HasDownloadedResource,
		HasUsedCalculator:     s.HasUsedCalculator,
		IsEmailSubscriber:     s.IsEmailSubscriber,
		Role:                  s.Role,
		CompanySize:           s.CompanySize,
		Device:                string(s.Device),
	}
	for _, pv := range s.PageViews {
		ctx.PageHistory = append(ctx.PageHistory, pv.Page)
		if pv.MaxScrollDepth > ctx.ScrollDepth {
			ctx.ScrollDepth = pv.MaxScrollDepth
		}
	}
	for _, ev := range s.Events {
		ctx.Interactions = append(ctx.Interactions, ev.Name)
	}
	ctx.Score = scoring.Score(ctx)
	return ctx
}
