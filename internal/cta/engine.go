// Package cta selects the call-to-action with the highest expected value
// for a session: an ordered rule list picks the category, a tone heuristic
// picks the display variant, and placements configured as under test defer
// the variant choice to the experiment service.
package cta

import (
	"context"
	"fmt"

	"github.com/leadpulse/leadpulse/internal/metrics"
	"github.com/leadpulse/leadpulse/internal/scoring"
	"github.com/leadpulse/leadpulse/internal/store"
)

// Assigner is the slice of the experiment service the engine needs.
type Assigner interface {
	Assign(ctx context.Context, testID, sessionID string) *store.Variant
}

// Recommendation is the engine's decision for one (session, placement).
type Recommendation struct {
	CTAType    string         `json:"cta_type"`
	Variant    *store.Variant `json:"variant,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasoning  []string       `json:"reasoning"`
	// TestID is set when the placement is under test. Excluded marks a
	// session the experiment left out; such sessions get no variant.
	TestID   string `json:"test_id,omitempty"`
	Excluded bool   `json:"excluded,omitempty"`
}

// Engine holds the rule order, the variant catalog, and the under-test
// placement map.
type Engine struct {
	rules     []Rule
	catalog   Catalog
	underTest map[string]string // "page|position" -> test id
	assigner  Assigner
}

func NewEngine(rules []Rule, catalog Catalog, assigner Assigner) *Engine {
	return &Engine{
		rules:     rules,
		catalog:   catalog,
		underTest: make(map[string]string),
		assigner:  assigner,
	}
}

// PutUnderTest routes a (page, position) placement through the experiment
// service instead of the static variant heuristic.
func (e *Engine) PutUnderTest(page, position, testID string) {
	e.underTest[placementKey(page, position)] = testID
}

func placementKey(page, position string) string {
	return page + "|" + position
}

// Recommend picks a CTA category and variant for the session context. It
// is total: any context, including a zero one, yields a recommendation.
func (e *Engine) Recommend(ctx context.Context, sctx scoring.Context, page PageContext) Recommendation {
	rec := Recommendation{CTAType: TypeNewsletter, Confidence: 0.4}

	for _, rule := range e.rules {
		if !rule.When(sctx, page) {
			continue
		}
		rec.CTAType = rule.CTAType
		rec.Confidence = rule.Confidence
		rec.Reasoning = append(rec.Reasoning, rule.Reason(sctx))
		break
	}
	rec.Reasoning = append(rec.Reasoning, fmt.Sprintf("lead score %d", sctx.Score))

	if testID, ok := e.underTest[placementKey(page.Page, page.Position)]; ok && e.assigner != nil {
		rec.TestID = testID
		v := e.assigner.Assign(ctx, testID, sctx.SessionID)
		if v == nil {
			rec.Excluded = true
			rec.Reasoning = append(rec.Reasoning, "session excluded from active experiment")
		} else {
			rec.Variant = v
			rec.Reasoning = append(rec.Reasoning, fmt.Sprintf("variant %q assigned by experiment %q", v.ID, testID))
		}
		metrics.Recommendations.WithLabelValues(rec.CTAType).Inc()
		return rec
	}

	rec.Variant = e.pickVariant(rec.CTAType, sctx)
	metrics.Recommendations.WithLabelValues(rec.CTAType).Inc()
	return rec
}

// pickVariant prefers a value-proposition variant for senior roles, social
// proof for enterprise visitors, urgency framing for low scores, and the
// category's first variant otherwise.
func (e *Engine) pickVariant(ctaType string, sctx scoring.Context) *store.Variant {
	variants := e.catalog[ctaType]
	if len(variants) == 0 {
		return nil
	}

	var wantTone string
	switch {
	case scoring.IsSeniorRole(sctx.Role):
		wantTone = ToneValue
	case sctx.CompanySize == scoring.CompanySizeEnterprise:
		wantTone = ToneSocialProof
	case sctx.Score < lowScore:
		wantTone = ToneUrgency
	}

	if wantTone != "" {
		for i := range variants {
			if variants[i].Payload["tone"] == wantTone {
				return &variants[i]
			}
		}
	}
	return &variants[0]
}
