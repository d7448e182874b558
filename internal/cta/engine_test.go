package cta_test

import (
	"context"
	"strings"
	"testing"

	"github.com/leadpulse/leadpulse/internal/cta"
	"github.com/leadpulse/leadpulse/internal/scoring"
	"github.com/leadpulse/leadpulse/internal/store"
)

type fakeAssigner struct {
	variant *store.Variant
	calls   int
}

func (f *fakeAssigner) Assign(_ context.Context, _, _ string) *store.Variant {
	f.calls++
	return f.variant
}

func newEngine(assigner cta.Assigner) *cta.Engine {
	return cta.NewEngine(cta.DefaultRules(), cta.DefaultCatalog(), assigner)
}

func TestRecommend_HighScore(t *testing.T) {
	e := newEngine(nil)
	rec := e.Recommend(context.Background(), scoring.Context{Score: 85}, cta.PageContext{Page: "home"})

	if rec.CTAType != cta.TypeConsultation {
		t.Errorf("score 85 should get consultation, got %s", rec.CTAType)
	}
	if rec.Confidence < 0.9 {
		t.Errorf("strong signal should carry high confidence, got %f", rec.Confidence)
	}
	if rec.Variant == nil {
		t.Error("expected a variant")
	}
}

func TestRecommend_CalculatorScenario(t *testing.T) {
	// 400s on site, 5 pages, calculator used: score 60, below the
	// high-score cutoff, so the calculator rule must catch it.
	sctx := scoring.Context{
		TimeOnSite:        400,
		PageViews:         5,
		HasUsedCalculator: true,
	}
	sctx.Score = scoring.Score(sctx)
	if sctx.Score < 60 {
		t.Fatalf("scenario should score at least 60, got %d", sctx.Score)
	}

	e := newEngine(nil)
	rec := e.Recommend(context.Background(), sctx, cta.PageContext{Page: "home"})

	if rec.CTAType != cta.TypeConsultation {
		t.Errorf("calculator user should get consultation, got %s", rec.CTAType)
	}
	found := false
	for _, reason := range rec.Reasoning {
		if strings.Contains(strings.ToLower(reason), "calculator") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasoning should cite calculator usage: %v", rec.Reasoning)
	}
}

func TestRecommend_RulePrecedence(t *testing.T) {
	e := newEngine(nil)
	ctx := context.Background()

	cases := []struct {
		name string
		sctx scoring.Context
		page cta.PageContext
		want string
	}{
		{"senior role escalates", scoring.Context{Role: "VP Marketing", Score: 10}, cta.PageContext{Page: "blog"}, cta.TypeConsultation},
		{"enterprise mid score", scoring.Context{CompanySize: scoring.CompanySizeEnterprise, Score: 45}, cta.PageContext{Page: "blog"}, cta.TypeDemo},
		{"enterprise low score falls through", scoring.Context{CompanySize: scoring.CompanySizeEnterprise, Score: 10}, cta.PageContext{Page: "blog"}, cta.TypeNewsletter},
		{"mid score on product page", scoring.Context{Score: 50}, cta.PageContext{Page: "pricing"}, cta.TypeDemo},
		{"sustained engagement", scoring.Context{TimeOnSite: 200, PageViews: 4, Score: 20}, cta.PageContext{Page: "home"}, cta.TypeDemo},
		{"services default", scoring.Context{Score: 5}, cta.PageContext{Page: "services"}, cta.TypeDemo},
		{"content default", scoring.Context{Score: 5}, cta.PageContext{Page: "blog"}, cta.TypeNewsletter},
		{"fallback", scoring.Context{}, cta.PageContext{Page: "unknown"}, cta.TypeNewsletter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.Recommend(ctx, tc.sctx, tc.page)
			if rec.CTAType != tc.want {
				t.Errorf("got %s, want %s (reasoning: %v)", rec.CTAType, tc.want, rec.Reasoning)
			}
		})
	}
}

func TestRecommend_ConfidenceOrdering(t *testing.T) {
	e := newEngine(nil)
	ctx := context.Background()

	strong := e.Recommend(ctx, scoring.Context{Score: 90}, cta.PageContext{Page: "home"})
	weak := e.Recommend(ctx, scoring.Context{Score: 5}, cta.PageContext{Page: "unknown"})
	if strong.Confidence <= weak.Confidence {
		t.Errorf("stronger signal should have higher confidence: %f vs %f",
			strong.Confidence, weak.Confidence)
	}
}

func TestVariantHeuristic(t *testing.T) {
	e := newEngine(nil)
	ctx := context.Background()

	// Senior role prefers the value-proposition variant.
	rec := e.Recommend(ctx, scoring.Context{Role: "CTO", Score: 80}, cta.PageContext{Page: "home"})
	if rec.Variant == nil || rec.Variant.Payload["tone"] != cta.ToneValue {
		t.Errorf("senior role should get value variant, got %v", rec.Variant)
	}

	// Enterprise prefers social proof.
	rec = e.Recommend(ctx, scoring.Context{CompanySize: scoring.CompanySizeEnterprise, Score: 45}, cta.PageContext{Page: "home"})
	if rec.Variant == nil || rec.Variant.Payload["tone"] != cta.ToneSocialProof {
		t.Errorf("enterprise should get social proof variant, got %v", rec.Variant)
	}

	// Low score gets urgency framing.
	rec = e.Recommend(ctx, scoring.Context{Score: 5}, cta.PageContext{Page: "unknown"})
	if rec.Variant == nil || rec.Variant.Payload["tone"] != cta.ToneUrgency {
		t.Errorf("low score should get urgency variant, got %v", rec.Variant)
	}

	// Otherwise the first catalog variant.
	rec = e.Recommend(ctx, scoring.Context{Score: 75}, cta.PageContext{Page: "home"})
	if rec.Variant == nil || rec.Variant.ID != "consult-direct" {
		t.Errorf("default pick should be first variant, got %v", rec.Variant)
	}
}

func TestRecommend_UnderTestPlacement(t *testing.T) {
	assigned := &store.Variant{ID: "exp-a", Payload: map[string]string{"headline": "From the test"}}
	fake := &fakeAssigner{variant: assigned}
	e := newEngine(fake)
	e.PutUnderTest("home", "hero", "hero-test")

	rec := e.Recommend(context.Background(), scoring.Context{SessionID: "s1", Score: 80}, cta.PageContext{Page: "home", Position: "hero"})
	if fake.calls != 1 {
		t.Fatalf("expected 1 assign call, got %d", fake.calls)
	}
	if rec.Variant == nil || rec.Variant.ID != "exp-a" {
		t.Errorf("experiment variant should override static pick, got %v", rec.Variant)
	}
	if rec.TestID != "hero-test" {
		t.Errorf("expected test id on recommendation, got %q", rec.TestID)
	}

	// A different placement uses the static heuristic.
	rec = e.Recommend(context.Background(), scoring.Context{SessionID: "s1", Score: 80}, cta.PageContext{Page: "home", Position: "footer"})
	if fake.calls != 1 {
		t.Errorf("assigner should not be consulted off-placement")
	}
	if rec.Variant == nil || rec.Variant.ID == "exp-a" {
		t.Errorf("static pick expected off-placement, got %v", rec.Variant)
	}
}

func TestRecommend_ExcludedSession(t *testing.T) {
	fake := &fakeAssigner{variant: nil} // experiment excludes everyone
	e := newEngine(fake)
	e.PutUnderTest("home", "hero", "hero-test")

	rec := e.Recommend(context.Background(), scoring.Context{SessionID: "s1"}, cta.PageContext{Page: "home", Position: "hero"})
	if !rec.Excluded {
		t.Error("expected exclusion flag")
	}
	if rec.Variant != nil {
		t.Errorf("excluded session must get no variant, got %v", rec.Variant)
	}
}
