package store

import "time"

type TestStatus string

const (
	StatusDraft     TestStatus = "draft"
	StatusRunning   TestStatus = "running"
	StatusPaused    TestStatus = "paused"
	StatusCompleted TestStatus = "completed"
)

type SubscriptionStatus string

const (
	SubActive       SubscriptionStatus = "active"
	SubPaused       SubscriptionStatus = "paused"
	SubCompleted    SubscriptionStatus = "completed"
	SubUnsubscribed SubscriptionStatus = "unsubscribed"
	// SubNeedsReview marks a subscription whose sends kept failing and
	// which will not be retried until manually resumed.
	SubNeedsReview SubscriptionStatus = "needs_review"
)

type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
)

// Interaction actions for experiment tracking.
const (
	ActionImpression = "impression"
	ActionClick      = "click"
	ActionConversion = "conversion"
)

// PageView is one page visit within a session. A page view with a nil
// ExitedAt is the session's current page.
type PageView struct {
	Page           string     `json:"page"`
	URL            string     `json:"url"`
	EnteredAt      time.Time  `json:"entered_at"`
	ExitedAt       *time.Time `json:"exited_at,omitempty"`
	DwellSeconds   float64    `json:"dwell_seconds"`
	MaxScrollDepth int        `json:"max_scroll_depth"`
	// ScrollMilestones records which depth thresholds already produced a
	// milestone event, so each fires at most once per page view.
	ScrollMilestones []int `json:"scroll_milestones,omitempty"`
}

// Event is one named interaction with a free-form property map.
type Event struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Session is one visitor's tracked activity window, keyed by a
// caller-supplied opaque id.
type Session struct {
	ID            string            `json:"id"`
	StartedAt     time.Time         `json:"started_at"`
	LastSeenAt    time.Time         `json:"last_seen_at"`
	PageViews     []PageView        `json:"page_views,omitempty"`
	Events        []Event           `json:"events,omitempty"`
	TrafficSource string            `json:"traffic_source,omitempty"`
	UTM           map[string]string `json:"utm,omitempty"`
	Device        DeviceClass       `json:"device,omitempty"`
	Score         int               `json:"score"`

	// Flags set directly by specific event names and read by scoring.
	HasDownloadedResource bool `json:"has_downloaded_resource,omitempty"`
	HasUsedCalculator     bool `json:"has_used_calculator,omitempty"`
	IsEmailSubscriber     bool `json:"is_email_subscriber,omitempty"`

	// Firmographic signals captured from identify-style events.
	Role        string `json:"role,omitempty"`
	CompanySize string `json:"company_size,omitempty"`
}

// Clone returns a deep copy so repository callers can't mutate stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.PageViews = make([]PageView, len(s.PageViews))
	for i, pv := range s.PageViews {
		out.PageViews[i] = pv
		if pv.ExitedAt != nil {
			t := *pv.ExitedAt
			out.PageViews[i].ExitedAt = &t
		}
		out.PageViews[i].ScrollMilestones = append([]int(nil), pv.ScrollMilestones...)
	}
	out.Events = make([]Event, len(s.Events))
	for i, ev := range s.Events {
		out.Events[i] = ev
		out.Events[i].Properties = cloneMap(ev.Properties)
	}
	out.UTM = cloneMap(s.UTM)
	return &out
}

// Variant is one concrete version of a test with an arbitrary display payload.
type Variant struct {
	ID      string            `json:"id"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Test is a named A/B test bound to a page/position context.
type Test struct {
	ID              string     `json:"id"`
	Variants        []Variant  `json:"variants"`
	Status          TestStatus `json:"status"`
	TrafficPct      int        `json:"traffic_pct"`
	MinSampleSize   int        `json:"min_sample_size"`
	ConfidenceLevel float64    `json:"confidence_level"`
	PrimaryMetric   string     `json:"primary_metric,omitempty"`
	Page            string     `json:"page,omitempty"`
	Position        string     `json:"position,omitempty"`
	WinnerVariant   string     `json:"winner_variant,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Variant returns the variant with the given id, or nil.
func (t *Test) Variant(id string) *Variant {
	for i := range t.Variants {
		if t.Variants[i].ID == id {
			return &t.Variants[i]
		}
	}
	return nil
}

func (t *Test) Clone() *Test {
	if t == nil {
		return nil
	}
	out := *t
	out.Variants = make([]Variant, len(t.Variants))
	for i, v := range t.Variants {
		out.Variants[i] = v
		out.Variants[i].Payload = cloneMap(v.Payload)
	}
	return &out
}

// Interaction is one observed impression/click/conversion for a
// (session, test, variant) triple.
type Interaction struct {
	SessionID string            `json:"session_id"`
	TestID    string            `json:"test_id"`
	VariantID string            `json:"variant_id"`
	Action    string            `json:"action"`
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// VariantCounts aggregates interactions for one variant of a test.
type VariantCounts struct {
	Impressions int `json:"impressions"`
	Clicks      int `json:"clicks"`
	Conversions int `json:"conversions"`
}

// NotStarted is the sentinel day offset for a subscription that has not
// received its first email yet.
const NotStarted = -1

// Subscription is a subscriber's enrollment in one bounded email sequence.
type Subscription struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	Sequence      string             `json:"sequence"`
	CurrentOffset int                `json:"current_offset"`
	EnrolledAt    time.Time          `json:"enrolled_at"`
	LastSentAt    *time.Time         `json:"last_sent_at,omitempty"`
	Status        SubscriptionStatus `json:"status"`
	LeadScore     int                `json:"lead_score,omitempty"`
	Payload       map[string]string  `json:"payload,omitempty"`
	// SendFailures counts consecutive failed sends; reset on success.
	SendFailures int `json:"send_failures,omitempty"`
}

func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	out := *s
	if s.LastSentAt != nil {
		t := *s.LastSentAt
		out.LastSentAt = &t
	}
	out.Payload = cloneMap(s.Payload)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
