package cta

import (
	"fmt"
	"strings"

	"github.com/leadpulse/leadpulse/internal/scoring"
)

// PageContext is where on the site the CTA will render.
type PageContext struct {
	Page     string `json:"page"`
	Position string `json:"position"`
}

// Rule is one (predicate, outcome) pair. Rules are evaluated in order and
// the first match wins, so precedence is the slice order and tests can
// enumerate it directly.
type Rule struct {
	Name       string
	When       func(ctx scoring.Context, page PageContext) bool
	CTAType    string
	Confidence float64
	Reason     func(ctx scoring.Context) string
}

// Decision thresholds.
const (
	highScore          = 70
	midScore           = 40
	lowScore           = 30
	sustainedSeconds   = 180
	sustainedPageViews = 4
)

func isProductPage(page string) bool {
	switch page {
	case "product", "services", "pricing", "solutions":
		return true
	}
	return strings.HasPrefix(page, "services/")
}

func isContentPage(page string) bool {
	switch page {
	case "blog", "resources", "guides", "about":
		return true
	}
	return strings.HasPrefix(page, "blog/") || strings.HasPrefix(page, "resources/")
}

// DefaultRules returns the ordered decision list. Earlier rules represent
// stronger signals and carry higher confidence.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "high-score",
			When: func(ctx scoring.Context, _ PageContext) bool {
				return ctx.Score >= highScore
			},
			CTAType:    TypeConsultation,
			Confidence: 0.95,
			Reason: func(ctx scoring.Context) string {
				return fmt.Sprintf("lead score %d indicates high intent", ctx.Score)
			},
		},
		{
			Name: "calculator-used",
			When: func(ctx scoring.Context, _ PageContext) bool {
				return ctx.HasUsedCalculator
			},
			CTAType:    TypeConsultation,
			Confidence: 0.9,
			Reason: func(scoring.Context) string {
				return "used the ROI calculator, a strong buying signal"
			},
		},
		{
			Name: "senior-role",
			When: func(ctx scoring.Context, _ PageContext) bool {
				return scoring.IsSeniorRole(ctx.Role)
			},
			CTAType:    TypeConsultation,
			Confidence: 0.85,
			Reason: func(ctx scoring.Context) string {
				return fmt.Sprintf("senior decision-maker role %q", ctx.Role)
			},
		},
		{
			Name: "enterprise",
			When: func(ctx scoring.Context, _ PageContext) bool {
				return ctx.CompanySize == scoring.CompanySizeEnterprise && ctx.Score >= midScore
			},
			CTAType:    TypeDemo,
			Confidence: 0.8,
			Reason: func(ctx scoring.Context) string {
				return fmt.Sprintf("enterprise company size with moderate engagement (score %d)", ctx.Score)
			},
		},
		{
			Name: "product-interest",
			When: func(ctx scoring.Context, page PageContext) bool {
				return ctx.Score >= midScore && isProductPage(page.Page)
			},
			CTAType:    TypeDemo,
			Confidence: 0.7,
			Reason: func(ctx scoring.Context) string {
				return fmt.Sprintf("engaged visitor (score %d) browsing product pages", ctx.Score)
			},
		},
		{
			Name: "sustained-engagement",
			When: func(ctx scoring.Context, _ PageContext) bool {
				return ctx.TimeOnSite >= sustainedSeconds && ctx.PageViews >= sustainedPageViews
			},
			CTAType:    TypeDemo,
			Confidence: 0.65,
			Reason: func(ctx scoring.Context) string {
				return fmt.Sprintf("sustained engagement: %.0fs on site across %d pages", ctx.TimeOnSite, ctx.PageViews)
			},
		},
		{
			Name: "services-default",
			When: func(_ scoring.Context, page PageContext) bool {
				return isProductPage(page.Page)
			},
			CTAType:    TypeDemo,
			Confidence: 0.5,
			Reason: func(scoring.Context) string {
				return "default for service pages"
			},
		},
		{
			Name: "content-default",
			When: func(_ scoring.Context, page PageContext) bool {
				return isContentPage(page.Page)
			},
			CTAType:    TypeNewsletter,
			Confidence: 0.45,
			Reason: func(scoring.Context) string {
				return "default for content pages"
			},
		},
		{
			Name: "fallback",
			When: func(scoring.Context, PageContext) bool {
				return true
			},
			CTAType:    TypeNewsletter,
			Confidence: 0.4,
			Reason: func(scoring.Context) string {
				return "no stronger signal available"
			},
		},
	}
}
