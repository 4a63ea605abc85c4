package risk

import (
	"context"
	"fmt"
	"math"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/reasoning"

	"gonum.org/v1/gonum/stat"
)

const DefaultLiquidationThreshold = 0.85

// Tier upper bounds. A health factor equal to a bound lands in the milder tier.
const (
	criticalBelow = 1.3
	highBelow     = 1.5
	moderateBelow = 1.8
	lowBelow      = 2.2
)

// Urgency floors for execution priority.
const (
	emergencyUrgency = 8
	highUrgency      = 6
	normalUrgency    = 5
	immediateUrgency = 7
)

type Assessment struct {
	HealthFactor            float64
	CollateralValueUSD      float64
	DebtValueUSD            float64
	RiskLevel               domain.RiskLevel
	LiquidationProbability  float64
	Urgency                 float64
	ExecutionPriority       domain.Priority
	RequiresImmediateAction bool
	Source                  domain.Source
}

type Evaluator struct {
	engine    reasoning.Engine
	threshold float64
}

func NewEvaluator(engine reasoning.Engine, liquidationThreshold float64) *Evaluator {
	if engine == nil {
		engine = reasoning.NewFallback()
	}
	if liquidationThreshold <= 0 || liquidationThreshold > 1 {
		liquidationThreshold = DefaultLiquidationThreshold
	}
	return &Evaluator{engine: engine, threshold: liquidationThreshold}
}

// Evaluate scores a position against the current collateral price.
// Debt is valued 1:1 in USD.
func (e *Evaluator) Evaluate(ctx context.Context, pos domain.Position, collateralPrice, volatility float64) (Assessment, error) {
	if collateralPrice <= 0 || math.IsNaN(collateralPrice) || math.IsInf(collateralPrice, 0) {
		return Assessment{}, fmt.Errorf("%s: %w", pos.CollateralToken, domain.ErrPriceUnavailable)
	}
	collateralUSD := pos.CollateralAmount * collateralPrice
	debtUSD := pos.DebtAmount
	hf := HealthFactor(collateralUSD, debtUSD, e.threshold)
	out := e.engine.AssessRisk(ctx, reasoning.RiskInput{HealthFactor: hf, Volatility: volatility})
	return Assessment{
		HealthFactor:            hf,
		CollateralValueUSD:      collateralUSD,
		DebtValueUSD:            debtUSD,
		RiskLevel:               Tier(hf),
		LiquidationProbability:  out.LiquidationProbability,
		Urgency:                 out.Urgency,
		ExecutionPriority:       Priority(out.Urgency),
		RequiresImmediateAction: RequiresImmediateAction(out.Urgency),
		Source:                  out.Source,
	}, nil
}

// Priority maps an urgency score to an execution priority. Each floor is
// inclusive.
func Priority(urgency float64) domain.Priority {
	switch {
	case urgency >= emergencyUrgency:
		return domain.PriorityEmergency
	case urgency >= highUrgency:
		return domain.PriorityHigh
	case urgency >= normalUrgency:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

func RequiresImmediateAction(urgency float64) bool {
	return urgency >= immediateUrgency
}

func HealthFactor(collateralUSD, debtUSD, threshold float64) float64 {
	if debtUSD <= 0 {
		return domain.NoDebtHealthFactor
	}
	return collateralUSD * threshold / debtUSD
}

func Tier(hf float64) domain.RiskLevel {
	switch {
	case hf < criticalBelow:
		return domain.RiskCritical
	case hf < highBelow:
		return domain.RiskHigh
	case hf < moderateBelow:
		return domain.RiskModerate
	case hf < lowBelow:
		return domain.RiskLow
	default:
		return domain.RiskSafe
	}
}

// Volatility is the standard deviation of simple returns, in percent.
// It returns ok=false when fewer than two returns are available.
func Volatility(prices []float64) (float64, bool) {
	returns := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) < 2 {
		return 0, false
	}
	return stat.StdDev(returns, nil) * 100, true
}
