package cta

import "github.com/leadpulse/leadpulse/internal/store"

// CTA categories, ordered by commitment tier.
const (
	TypeConsultation = "consultation" // highest tier
	TypeDemo         = "demo"
	TypeNewsletter   = "newsletter" // lowest commitment
)

// Variant payload tone tags consumed by the selection heuristic.
const (
	ToneValue       = "value"
	ToneSocialProof = "social_proof"
	ToneUrgency     = "urgency"
	ToneNeutral     = "neutral"
)

// Catalog maps a CTA category to its pre-defined display variants. The
// first variant of each category is the default pick.
type Catalog map[string][]store.Variant

// DefaultCatalog returns the built-in display variants. Deployments
// override entries from config.
func DefaultCatalog() Catalog {
	return Catalog{
		TypeConsultation: {
			{ID: "consult-direct", Payload: map[string]string{
				"headline": "Book a strategy consultation",
				"button":   "Schedule a call",
				"tone":     ToneNeutral,
			}},
			{ID: "consult-value", Payload: map[string]string{
				"headline": "See how teams like yours cut acquisition costs by 30%",
				"button":   "Talk to an expert",
				"tone":     ToneValue,
			}},
			{ID: "consult-proof", Payload: map[string]string{
				"headline": "Join 400+ companies already growing with us",
				"button":   "Book your consultation",
				"tone":     ToneSocialProof,
			}},
		},
		TypeDemo: {
			{ID: "demo-direct", Payload: map[string]string{
				"headline": "See the platform in action",
				"button":   "Request a demo",
				"tone":     ToneNeutral,
			}},
			{ID: "demo-value", Payload: map[string]string{
				"headline": "Find out what your pipeline is leaving on the table",
				"button":   "Get a personalized demo",
				"tone":     ToneValue,
			}},
			{ID: "demo-proof", Payload: map[string]string{
				"headline": "The demo 2,000 marketing teams asked for",
				"button":   "Watch it live",
				"tone":     ToneSocialProof,
			}},
			{ID: "demo-urgency", Payload: map[string]string{
				"headline": "Spots this week are almost gone",
				"button":   "Grab a demo slot",
				"tone":     ToneUrgency,
			}},
		},
		TypeNewsletter: {
			{ID: "news-direct", Payload: map[string]string{
				"headline": "Get growth tactics in your inbox",
				"button":   "Subscribe",
				"tone":     ToneNeutral,
			}},
			{ID: "news-urgency", Payload: map[string]string{
				"headline": "This week's playbook drops Friday",
				"button":   "Don't miss it",
				"tone":     ToneUrgency,
			}},
		},
	}
}
