package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minReturnsForVaR is the smallest sample the estimators accept; below it a
// conservative placeholder is reported.
const minReturnsForVaR = 30

// conservativeVaR stands in when return history is too thin
var conservativeVaR = VaRReport{
	VaR95: 0.05,
	VaR99: 0.08,
	ES95:  0.07,
	ES99:  0.10,
}

// VaRReport holds value-at-risk and expected-shortfall estimates as
// positive loss fractions of portfolio value.
type VaRReport struct {
	VaR95 float64
	VaR99 float64
	ES95  float64
	ES99  float64
}

// HistoricalVaR estimates VaR from the empirical return distribution
func HistoricalVaR(returns []float64) VaRReport {
	if len(returns) < minReturnsForVaR {
		return conservativeVaR
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	var95 := -stat.Quantile(0.05, stat.Empirical, sorted, nil)
	var99 := -stat.Quantile(0.01, stat.Empirical, sorted, nil)
	return VaRReport{
		VaR95: math.Max(var95, 0),
		VaR99: math.Max(var99, 0),
		ES95:  expectedShortfall(sorted, 0.05),
		ES99:  expectedShortfall(sorted, 0.01),
	}
}

// ParametricVaR fits a normal distribution to the returns
func ParametricVaR(returns []float64) VaRReport {
	if len(returns) < minReturnsForVaR {
		return conservativeVaR
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return conservativeVaR
	}
	dist := distuv.Normal{Mu: mean, Sigma: std}

	var95 := -dist.Quantile(0.05)
	var99 := -dist.Quantile(0.01)

	// Closed-form normal expected shortfall: ES_a = -mu + sigma*phi(z_a)/a
	es := func(alpha float64) float64 {
		z := distuv.UnitNormal.Quantile(alpha)
		phi := math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
		return math.Max(-mean+std*phi/alpha, 0)
	}

	return VaRReport{
		VaR95: math.Max(var95, 0),
		VaR99: math.Max(var99, 0),
		ES95:  es(0.05),
		ES99:  es(0.01),
	}
}

// MonteCarloVaR resamples from a normal fit of the returns
func MonteCarloVaR(returns []float64, simulations int) VaRReport {
	if len(returns) < minReturnsForVaR {
		return conservativeVaR
	}
	if simulations <= 0 {
		simulations = 10_000
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return conservativeVaR
	}
	dist := distuv.Normal{Mu: mean, Sigma: std}

	samples := make([]float64, simulations)
	for i := range samples {
		samples[i] = dist.Rand()
	}
	sort.Float64s(samples)

	return VaRReport{
		VaR95: math.Max(-stat.Quantile(0.05, stat.Empirical, samples, nil), 0),
		VaR99: math.Max(-stat.Quantile(0.01, stat.Empirical, samples, nil), 0),
		ES95:  expectedShortfall(samples, 0.05),
		ES99:  expectedShortfall(samples, 0.01),
	}
}

// expectedShortfall averages the losses in the worst alpha tail of a sorted
// ascending sample.
func expectedShortfall(sorted []float64, alpha float64) float64 {
	n := int(math.Ceil(alpha * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	var sum float64
	for _, r := range sorted[:n] {
		sum += r
	}
	return math.Max(-sum/float64(n), 0)
}
