package stats

import "math"

// minSampleForConfidence is the impression floor below which the
// normal approximation is meaningless and confidence reports as 0.
const minSampleForConfidence = 30

// ConfidenceScore maps a variant's conversion data to a 0-100 score using
// a normal-approximation margin of error on the conversion rate:
// SE = sqrt(p(1-p)/n), 95% margin = 1.96*SE, score = (1 - margin) * 100.
// This is directional guidance, not a rigorous two-proportion test.
func ConfidenceScore(conversions, impressions int) float64 {
	if impressions < minSampleForConfidence {
		return 0
	}
	p := float64(conversions) / float64(impressions)
	se := math.Sqrt(p * (1 - p) / float64(impressions))
	margin := 1.96 * se
	score := (1 - margin) * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Rate returns conversions/impressions, or 0 when there are no impressions.
func Rate(conversions, impressions int) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(conversions) / float64(impressions)
}

// SignificanceTest performs a two-proportion z-test and returns the
// confidence level (0-1) that variant A's conversion rate beats variant B's.
func SignificanceTest(aConv, aImpr, bConv, bImpr int) float64 {
	if aImpr == 0 || bImpr == 0 {
		return 0.5 // need data from both variants
	}

	pA := float64(aConv) / float64(aImpr)
	pB := float64(bConv) / float64(bImpr)

	// Pooled proportion under the null hypothesis pA = pB.
	pooled := float64(aConv+bConv) / float64(aImpr+bImpr)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aImpr) + 1/float64(bImpr)))

	if se == 0 {
		switch {
		case pA > pB:
			return 1.0
		case pA < pB:
			return 0.0
		}
		return 0.5
	}

	z := (pA - pB) / se
	return normalCDF(z)
}

// WilsonInterval calculates the Wilson score interval for a binomial
// proportion at 95% confidence. More accurate than the normal
// approximation for small samples; used for CLI result tables.
func WilsonInterval(successes, trials int) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	const z = 1.96
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denom := 1 + z*z/n
	center := (p + z*z/(2*n)) / denom
	spread := (z / denom) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	lower = math.Max(0, center-spread)
	upper = math.Min(1, center+spread)
	return lower, upper
}

// normalCDF approximates the standard normal CDF using Abramowitz and
// Stegun formula 7.1.26.
func normalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
