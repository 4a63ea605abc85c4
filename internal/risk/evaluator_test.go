package risk

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/reasoning"
)

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		hf   float64
		want domain.RiskLevel
	}{
		{0.5, domain.RiskCritical},
		{1.29, domain.RiskCritical},
		{1.3, domain.RiskHigh},
		{1.49, domain.RiskHigh},
		{1.5, domain.RiskModerate},
		{1.8, domain.RiskLow},
		{2.19, domain.RiskLow},
		{2.2, domain.RiskSafe},
		{domain.NoDebtHealthFactor, domain.RiskSafe},
	}
	for _, tc := range cases {
		if got := Tier(tc.hf); got != tc.want {
			t.Fatalf("hf %.2f: expected %s, got %s", tc.hf, tc.want, got)
		}
	}
}

func TestPriorityBoundaries(t *testing.T) {
	cases := []struct {
		urgency   float64
		want      domain.Priority
		immediate bool
	}{
		{0, domain.PriorityLow, false},
		{4.99, domain.PriorityLow, false},
		{5, domain.PriorityNormal, false},
		{5.99, domain.PriorityNormal, false},
		{6, domain.PriorityHigh, false},
		{6.99, domain.PriorityHigh, false},
		{7, domain.PriorityHigh, true},
		{7.99, domain.PriorityHigh, true},
		{8, domain.PriorityEmergency, true},
		{10, domain.PriorityEmergency, true},
	}
	for _, tc := range cases {
		if got := Priority(tc.urgency); got != tc.want {
			t.Fatalf("urgency %.2f: expected %s, got %s", tc.urgency, tc.want, got)
		}
		if got := RequiresImmediateAction(tc.urgency); got != tc.immediate {
			t.Fatalf("urgency %.2f: expected immediate=%v, got %v", tc.urgency, tc.immediate, got)
		}
	}
}

// fixedUrgency answers every risk call with one urgency.
type fixedUrgency struct {
	reasoning.Fallback
	urgency float64
}

func (f fixedUrgency) AssessRisk(context.Context, reasoning.RiskInput) reasoning.RiskOutput {
	return reasoning.RiskOutput{Urgency: f.urgency, Source: domain.SourcePrimary}
}

func TestEvaluateCarriesPriority(t *testing.T) {
	pos := domain.Position{CollateralToken: "WETH", CollateralAmount: 2, DebtAmount: 1000}
	cases := []struct {
		urgency   float64
		want      domain.Priority
		immediate bool
	}{
		{5, domain.PriorityNormal, false},
		{6, domain.PriorityHigh, false},
		{7, domain.PriorityHigh, true},
		{8, domain.PriorityEmergency, true},
	}
	for _, tc := range cases {
		ev := NewEvaluator(fixedUrgency{Fallback: reasoning.NewFallback(), urgency: tc.urgency}, 0.8)
		got, err := ev.Evaluate(context.Background(), pos, 1000, 5)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if got.ExecutionPriority != tc.want || got.RequiresImmediateAction != tc.immediate {
			t.Fatalf("urgency %.0f: expected %s immediate=%v, got %s immediate=%v",
				tc.urgency, tc.want, tc.immediate, got.ExecutionPriority, got.RequiresImmediateAction)
		}
	}
}

func TestEvaluateWETHPosition(t *testing.T) {
	ev := NewEvaluator(reasoning.NewFallback(), 0.85)
	pos := domain.Position{
		ID:               "pos-1",
		CollateralToken:  "WETH",
		CollateralAmount: 10.5,
		DebtToken:        "USDC",
		DebtAmount:       25000,
		LastUpdated:      time.Now(),
	}
	got, err := ev.Evaluate(context.Background(), pos, 2696, 5)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(got.HealthFactor-0.9625) > 0.001 {
		t.Fatalf("expected hf ~0.962, got %f", got.HealthFactor)
	}
	if got.RiskLevel != domain.RiskCritical {
		t.Fatalf("expected critical, got %s", got.RiskLevel)
	}
	if got.Urgency < 8 {
		t.Fatalf("expected urgency >= 8, got %f", got.Urgency)
	}
	if got.ExecutionPriority != domain.PriorityEmergency || !got.RequiresImmediateAction {
		t.Fatalf("expected emergency priority with immediate action, got %s %v", got.ExecutionPriority, got.RequiresImmediateAction)
	}
	if got.LiquidationProbability != 100 {
		t.Fatalf("expected probability 100 below hf 1, got %f", got.LiquidationProbability)
	}
	if got.CollateralValueUSD != 28308 || got.DebtValueUSD != 25000 {
		t.Fatalf("unexpected values: %+v", got)
	}
	if got.Source != domain.SourceFallback {
		t.Fatalf("expected fallback source")
	}
}

func TestEvaluateNoDebt(t *testing.T) {
	ev := NewEvaluator(nil, 0)
	got, err := ev.Evaluate(context.Background(), domain.Position{CollateralAmount: 1}, 100, 5)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got.HealthFactor != domain.NoDebtHealthFactor || got.RiskLevel != domain.RiskSafe {
		t.Fatalf("expected safe no-debt position, got %+v", got)
	}
	if got.ExecutionPriority != domain.PriorityLow || got.RequiresImmediateAction {
		t.Fatalf("expected low priority for a no-debt position, got %+v", got)
	}
	if got.Urgency != 0 {
		t.Fatalf("expected zero urgency, got %f", got.Urgency)
	}
}

func TestEvaluateMissingPrice(t *testing.T) {
	ev := NewEvaluator(nil, 0.85)
	for _, price := range []float64{0, -1, math.NaN()} {
		_, err := ev.Evaluate(context.Background(), domain.Position{CollateralToken: "WETH", CollateralAmount: 1, DebtAmount: 1}, price, 5)
		if !errors.Is(err, domain.ErrPriceUnavailable) {
			t.Fatalf("price %v: expected ErrPriceUnavailable, got %v", price, err)
		}
	}
}

func TestVolatility(t *testing.T) {
	if _, ok := Volatility([]float64{100, 101}); ok {
		t.Fatalf("expected not enough samples")
	}
	flat, ok := Volatility([]float64{100, 100, 100, 100})
	if !ok || flat != 0 {
		t.Fatalf("expected zero volatility for flat prices, got %f ok=%v", flat, ok)
	}
	vol, ok := Volatility([]float64{100, 110, 99, 108.9})
	if !ok {
		t.Fatalf("expected volatility")
	}
	// returns +10%, -10%, +10%; sample stddev = 11.547%
	if math.Abs(vol-11.547) > 0.01 {
		t.Fatalf("expected ~11.547, got %f", vol)
	}
}
