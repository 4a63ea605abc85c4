package reasoning

import (
	"context"

	"liqx-bot/internal/domain"
)

// Engine computes the risk curve, strategy score and execution method.
// Implementations never fail: a primary engine that cannot answer degrades to
// the closed-form result and reports SourceFallback.
type Engine interface {
	Source() domain.Source
	AssessRisk(ctx context.Context, in RiskInput) RiskOutput
	Score(ctx context.Context, in ScoreInput) ScoreOutput
	Method(ctx context.Context, in MethodInput) MethodOutput
}

type RiskInput struct {
	HealthFactor float64 `json:"health_factor"`
	Volatility   float64 `json:"volatility"`
}

type RiskOutput struct {
	LiquidationProbability float64
	Urgency                float64
	Source                 domain.Source
}

type ScoreInput struct {
	APYImprovement  float64 `json:"apy_improvement"`
	BreakEvenMonths float64 `json:"break_even_months"`
	Urgency         float64 `json:"urgency"`
	AmountUSD       float64 `json:"amount"`
}

type ScoreOutput struct {
	Score  float64
	Source domain.Source
}

type MethodInput struct {
	FromChain string  `json:"from_chain"`
	ToChain   string  `json:"to_chain"`
	AmountUSD float64 `json:"amount"`
	Urgency   float64 `json:"urgency"`
}

type MethodOutput struct {
	Method domain.Method
	Source domain.Source
}
