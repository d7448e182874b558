// Package scoring maps a session's accumulated signals to a bounded
// 0-100 engagement score. Score is pure: same context in, same score out,
// and it never fails, so callers can reason about thresholds.
package scoring

import "strings"

// Context is the derived view of a session that scoring and the CTA
// engine consume.
type Context struct {
	SessionID    string   `json:"session_id"`
	PageViews    int      `json:"page_views"`
	TimeOnSite   float64  `json:"time_on_site"` // seconds
	ScrollDepth  int      `json:"scroll_depth"` // percent, max across page views
	PageHistory  []string `json:"page_history,omitempty"`
	Interactions []string `json:"interactions,omitempty"`

	HasDownloadedResource bool `json:"has_downloaded_resource"`
	HasUsedCalculator     bool `json:"has_used_calculator"`
	IsEmailSubscriber     bool `json:"is_email_subscriber"`

	Role        string `json:"role,omitempty"`
	CompanySize string `json:"company_size,omitempty"`
	Device      string `json:"device,omitempty"`

	Score int `json:"score"`
}

// Engagement thresholds.
const (
	longVisitSeconds   = 300
	mediumVisitSeconds = 120
	manyPages          = 5
	somePages          = 3
	deepScrollPct      = 75
)

// Weights for named high-intent interactions. Each name contributes its
// weight once no matter how often it occurs.
var interactionWeights = map[string]int{
	"demo_requested":    30,
	"pricing_viewed":    20,
	"case_study_viewed": 15,
}

// seniorRoleTerms are matched case-insensitively against free-text roles.
var seniorRoleTerms = []string{
	"ceo", "cto", "cfo", "coo", "founder", "owner",
	"vp", "vice president", "director", "head of",
}

// Company size tiers as captured by the identify event.
const (
	CompanySizeEnterprise = "500+"
	CompanySizeMid        = "51-500"
)

// Score sums capped, independent contributions and clamps to [0,100].
// An empty context scores 0.
func Score(ctx Context) int {
	score := 0

	switch {
	case ctx.TimeOnSite >= longVisitSeconds:
		score += 20
	case ctx.TimeOnSite >= mediumVisitSeconds:
		score += 10
	}

	switch {
	case ctx.PageViews >= manyPages:
		score += 15
	case ctx.PageViews >= somePages:
		score += 8
	}

	if ctx.ScrollDepth >= deepScrollPct {
		score += 10
	}

	if ctx.HasUsedCalculator {
		score += 25
	}
	if ctx.HasDownloadedResource {
		score += 15
	}
	if ctx.IsEmailSubscriber {
		score += 10
	}

	seen := make(map[string]bool)
	for _, name := range ctx.Interactions {
		if seen[name] {
			continue
		}
		seen[name] = true
		score += interactionWeights[name]
	}

	if IsSeniorRole(ctx.Role) {
		score += 20
	}

	switch ctx.CompanySize {
	case CompanySizeEnterprise:
		score += 15
	case CompanySizeMid:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// IsSeniorRole reports whether a free-text role looks like a senior
// decision-maker title.
func IsSeniorRole(role string) bool {
	if role == "" {
		return false
	}
	lower := strings.ToLower(role)
	for _, term := range seniorRoleTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
