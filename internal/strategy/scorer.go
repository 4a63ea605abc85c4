package strategy

import (
	"context"
	"fmt"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/reasoning"
)

const (
	DefaultMinImprovement     = 0.5
	DefaultMaxBreakEvenMonths = 6.0
	unprofitableMonths        = 999.0
)

type Current struct {
	Protocol string
	Chain    string
	APY      float64
}

type Config struct {
	MinImprovement     float64
	MaxBreakEvenMonths float64
}

type Scorer struct {
	engine reasoning.Engine
	cfg    Config
}

func NewScorer(engine reasoning.Engine, cfg Config) *Scorer {
	if engine == nil {
		engine = reasoning.NewFallback()
	}
	if cfg.MinImprovement <= 0 {
		cfg.MinImprovement = DefaultMinImprovement
	}
	if cfg.MaxBreakEvenMonths <= 0 {
		cfg.MaxBreakEvenMonths = DefaultMaxBreakEvenMonths
	}
	return &Scorer{engine: engine, cfg: cfg}
}

type scored struct {
	candidate domain.Candidate
	improve   float64
	annual    float64
	months    float64
	score     float64
}

// SelectBest returns the highest scoring profitable candidate. ok is false
// when nothing survives the improvement and break-even filters.
func (s *Scorer) SelectBest(ctx context.Context, current Current, amountUSD, urgency float64, candidates []domain.Candidate) (domain.Selected, bool) {
	var (
		best     scored
		found    bool
		fallback bool
	)
	for _, c := range candidates {
		improve := c.APY - current.APY
		if improve < s.cfg.MinImprovement {
			continue
		}
		annual := AnnualProfit(amountUSD, improve)
		months := BreakEvenMonths(c.ExecutionCostUSD, annual)
		if months >= s.cfg.MaxBreakEvenMonths {
			continue
		}
		out := s.engine.Score(ctx, reasoning.ScoreInput{
			APYImprovement:  improve,
			BreakEvenMonths: months,
			Urgency:         urgency,
			AmountUSD:       amountUSD,
		})
		if out.Source == domain.SourceFallback {
			fallback = true
		}
		cur := scored{candidate: c, improve: improve, annual: annual, months: months, score: out.Score}
		if !found || better(cur, best) {
			best = cur
			found = true
		}
	}
	if !found {
		return domain.Selected{}, false
	}

	method := s.engine.Method(ctx, reasoning.MethodInput{
		FromChain: current.Chain,
		ToChain:   best.candidate.Chain,
		AmountUSD: amountUSD,
		Urgency:   urgency,
	})
	if method.Source == domain.SourceFallback {
		fallback = true
	}
	source := domain.SourcePrimary
	if fallback {
		source = domain.SourceFallback
	}

	confidence := best.score
	if confidence > 100 {
		confidence = 100
	}
	return domain.Selected{
		Candidate:       best.candidate,
		SourceProtocol:  current.Protocol,
		SourceChain:     current.Chain,
		CurrentAPY:      current.APY,
		APYImprovement:  best.improve,
		AnnualProfitUSD: best.annual,
		BreakEvenMonths: best.months,
		BreakEvenDays:   BreakEvenDays(best.candidate.ExecutionCostUSD, best.annual),
		Score:           best.score,
		Confidence:      confidence,
		Method:          method.Method,
		Reasoning: fmt.Sprintf("Selected %s on %s for +%.2f%% APY improvement. Break-even in %.1f months. Confidence: %.0f%%",
			best.candidate.Protocol, best.candidate.Chain, best.improve, best.months, confidence),
		Source: source,
	}, true
}

// better reports whether a beats b: strictly higher score, then lower cost.
// Equal candidates keep the earlier one.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.candidate.ExecutionCostUSD < b.candidate.ExecutionCostUSD
}

func AnnualProfit(amountUSD, improvement float64) float64 {
	return amountUSD * improvement / 100
}

func BreakEvenMonths(costUSD, annualProfit float64) float64 {
	if annualProfit <= 0 {
		return unprofitableMonths
	}
	return costUSD * 12 / annualProfit
}

func BreakEvenDays(costUSD, annualProfit float64) float64 {
	if annualProfit <= 0 {
		return unprofitableMonths * 30
	}
	return costUSD / (annualProfit / 365)
}

// UrgencyFromLabel maps coarse labels to the 0-10 urgency scale.
func UrgencyFromLabel(label string) float64 {
	switch label {
	case "low":
		return 3
	case "high":
		return 9
	default:
		return 6
	}
}
