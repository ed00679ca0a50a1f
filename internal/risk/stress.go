package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// StressScenario describes hypothetical fractional price moves per symbol
type StressScenario struct {
	Name         string
	PriceChanges map[string]float64
}

// Severity buckets for a scenario's portfolio impact
const (
	SeverityLow      = "LOW"
	SeverityModerate = "MODERATE"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// StressResult is the portfolio impact of one scenario
type StressResult struct {
	Scenario     string
	ImpactPct    float64 // signed percent of portfolio value
	Severity     string
	RecoveryDays int
}

// DefaultScenarios covers the usual market shocks
func DefaultScenarios() []StressScenario {
	crash := map[string]float64{"*": -0.20}
	correction := map[string]float64{"*": -0.10}
	squeeze := map[string]float64{"*": 0.15}
	return []StressScenario{
		{Name: "market_crash", PriceChanges: crash},
		{Name: "correction", PriceChanges: correction},
		{Name: "short_squeeze", PriceChanges: squeeze},
	}
}

// RunStressTests evaluates each scenario against the manager's position
// mirror. portfolioValue anchors the impact percentage.
func (m *Manager) RunStressTests(scenarios []StressScenario, portfolioValue decimal.Decimal) []StressResult {
	positions := m.Positions()

	results := make([]StressResult, 0, len(scenarios))
	for _, sc := range scenarios {
		impact := decimal.Zero
		for sym, p := range positions {
			move, ok := sc.PriceChanges[sym]
			if !ok {
				move, ok = sc.PriceChanges["*"]
				if !ok {
					continue
				}
			}
			// Signed exposure times the fractional move
			delta := p.SignedQuantity().Mul(p.EntryPrice).Mul(decimal.NewFromFloat(move))
			impact = impact.Add(delta)
		}

		pct := 0.0
		if portfolioValue.IsPositive() {
			pct, _ = impact.Div(portfolioValue).Mul(decimal.NewFromInt(100)).Float64()
		}
		results = append(results, StressResult{
			Scenario:     sc.Name,
			ImpactPct:    pct,
			Severity:     classifyImpact(pct),
			RecoveryDays: estimateRecoveryDays(pct),
		})
	}
	return results
}

func classifyImpact(pct float64) string {
	loss := math.Abs(math.Min(pct, 0))
	switch {
	case loss < 5:
		return SeverityLow
	case loss < 15:
		return SeverityModerate
	case loss < 30:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// estimateRecoveryDays assumes a half-percent average daily recovery
func estimateRecoveryDays(pct float64) int {
	loss := math.Abs(math.Min(pct, 0))
	if loss == 0 {
		return 0
	}
	return int(math.Ceil(loss / 0.5))
}

// RiskReport bundles the estimators for reporting
type RiskReport struct {
	Historical VaRReport
	Parametric VaRReport
	MonteCarlo VaRReport
	Stress     []StressResult
}

// BuildReport runs every estimator over the given return history
func (m *Manager) BuildReport(returns []float64, portfolioValue decimal.Decimal) *RiskReport {
	return &RiskReport{
		Historical: HistoricalVaR(returns),
		Parametric: ParametricVaR(returns),
		MonteCarlo: MonteCarloVaR(returns, 10_000),
		Stress:     m.RunStressTests(DefaultScenarios(), portfolioValue),
	}
}
