package reasoning

import (
	"context"
	"math"
	"strings"

	"liqx-bot/internal/chains"
	"liqx-bot/internal/domain"
)

const (
	maxAPYPoints     = 40.0
	maxUrgencyPoints = 20.0
	maxSizePoints    = 10.0
	sizeReferenceUSD = 50_000.0
)

// Fallback is the closed-form engine.
type Fallback struct{}

func NewFallback() Fallback { return Fallback{} }

func (Fallback) Source() domain.Source { return domain.SourceFallback }

func (Fallback) AssessRisk(_ context.Context, in RiskInput) RiskOutput {
	return RiskOutput{
		LiquidationProbability: LiquidationProbability(in.HealthFactor, in.Volatility),
		Urgency:                Urgency(in.HealthFactor),
		Source:                 domain.SourceFallback,
	}
}

func (Fallback) Score(_ context.Context, in ScoreInput) ScoreOutput {
	return ScoreOutput{
		Score:  Score(in.APYImprovement, in.BreakEvenMonths, in.Urgency, in.AmountUSD),
		Source: domain.SourceFallback,
	}
}

func (Fallback) Method(_ context.Context, in MethodInput) MethodOutput {
	return MethodOutput{
		Method: SelectMethod(in.FromChain, in.ToChain),
		Source: domain.SourceFallback,
	}
}

// Urgency is clamp(10 - 5*(hf-1), 0, 10).
func Urgency(healthFactor float64) float64 {
	return clamp(10-5*(healthFactor-1), 0, 10)
}

// LiquidationProbability returns a percentage that decays with distance above
// hf=1; higher volatility (percent) slows the decay.
func LiquidationProbability(healthFactor, volatility float64) float64 {
	if healthFactor <= 1 {
		return 100
	}
	if volatility < 0 {
		volatility = 0
	}
	return clamp(100*math.Exp(-3*(healthFactor-1)/(1+volatility/10)), 0, 100)
}

// Score sums four independently capped components; the total is at most 100.
func Score(apyImprovement, breakEvenMonths, urgency, amountUSD float64) float64 {
	return APYPoints(apyImprovement) + BreakEvenPoints(breakEvenMonths) + UrgencyPoints(urgency) + SizePoints(amountUSD)
}

func APYPoints(apyImprovement float64) float64 {
	return clamp(apyImprovement/100*maxAPYPoints, 0, maxAPYPoints)
}

func BreakEvenPoints(months float64) float64 {
	switch {
	case months <= 1:
		return 30
	case months <= 3:
		return 20
	case months <= 6:
		return 10
	default:
		return 0
	}
}

func UrgencyPoints(urgency float64) float64 {
	return clamp(urgency/10*maxUrgencyPoints, 0, maxUrgencyPoints)
}

func SizePoints(amountUSD float64) float64 {
	return clamp(amountUSD/sizeReferenceUSD*maxSizePoints, 0, maxSizePoints)
}

func SelectMethod(fromChain, toChain string) domain.Method {
	from := chains.Normalize(fromChain)
	to := chains.Normalize(toChain)
	switch {
	case from == to:
		return domain.MethodDirectSwap
	case strings.Contains(from, "pyusd") || strings.Contains(to, "pyusd"):
		return domain.MethodLayerZeroPYUSD
	case chains.IsSolana(from) || chains.IsSolana(to):
		return domain.MethodFusion
	case chains.IsFusionEVM(from) && chains.IsFusionEVM(to):
		return domain.MethodFusion
	default:
		return domain.MethodStandardBridge
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
