package strategy

import (
	"context"
	"math"
	"strings"
	"testing"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/reasoning"
)

func newTestScorer() *Scorer {
	return NewScorer(reasoning.NewFallback(), Config{})
}

func TestSelectBestProfitableScenario(t *testing.T) {
	scorer := newTestScorer()
	current := Current{Protocol: "aave-v3", Chain: "ethereum", APY: 5.2}
	candidates := []domain.Candidate{
		{Protocol: "compound-v3", Chain: "arbitrum", Token: "USDC", APY: 9.1, ExecutionCostUSD: 65, IsCrossChain: true},
	}
	got, ok := scorer.SelectBest(context.Background(), current, 100_000, 9, candidates)
	if !ok {
		t.Fatalf("expected a strategy")
	}
	if math.Abs(got.AnnualProfitUSD-3900) > 1e-6 {
		t.Fatalf("expected annual profit 3900, got %f", got.AnnualProfitUSD)
	}
	if math.Abs(got.BreakEvenMonths-0.2) > 1e-6 {
		t.Fatalf("expected break-even 0.2 months, got %f", got.BreakEvenMonths)
	}
	if reasoning.BreakEvenPoints(got.BreakEvenMonths) != 30 {
		t.Fatalf("expected break-even component 30")
	}
	want := reasoning.Score(got.APYImprovement, got.BreakEvenMonths, 9, 100_000)
	if got.Score != want || got.Confidence != want {
		t.Fatalf("expected score %f, got %f (confidence %f)", want, got.Score, got.Confidence)
	}
	if got.Method != domain.MethodFusion {
		t.Fatalf("expected fusion method, got %s", got.Method)
	}
	if got.SourceProtocol != "aave-v3" || got.SourceChain != "ethereum" || got.CurrentAPY != 5.2 {
		t.Fatalf("unexpected source fields: %+v", got)
	}
	if math.Abs(got.BreakEvenDays-65/(3900.0/365)) > 1e-6 {
		t.Fatalf("unexpected break-even days %f", got.BreakEvenDays)
	}
	if !strings.HasPrefix(got.Reasoning, "Selected compound-v3 on arbitrum for +3.90% APY improvement. Break-even in 0.2 months.") {
		t.Fatalf("unexpected reasoning %q", got.Reasoning)
	}
	if got.Source != domain.SourceFallback {
		t.Fatalf("expected fallback source")
	}
}

func TestSelectBestNoStrategy(t *testing.T) {
	scorer := newTestScorer()
	current := Current{Protocol: "aave-v3", Chain: "ethereum", APY: 5.0}
	candidates := []domain.Candidate{
		{Protocol: "a", Chain: "ethereum", APY: 5.4, ExecutionCostUSD: 10},
		{Protocol: "b", Chain: "ethereum", APY: 4.0, ExecutionCostUSD: 10},
	}
	if _, ok := scorer.SelectBest(context.Background(), current, 100_000, 9, candidates); ok {
		t.Fatalf("expected no strategy")
	}
	if _, ok := scorer.SelectBest(context.Background(), current, 100_000, 9, nil); ok {
		t.Fatalf("expected no strategy for empty candidates")
	}
}

func TestSelectBestExcludesSlowBreakEven(t *testing.T) {
	scorer := newTestScorer()
	current := Current{Chain: "ethereum", APY: 5.0}
	// improvement 1pp on $10k = $100/yr; cost $50 -> 6 months exactly.
	candidates := []domain.Candidate{
		{Protocol: "slow", Chain: "ethereum", APY: 6.0, ExecutionCostUSD: 50},
		{Protocol: "slower", Chain: "ethereum", APY: 30.0, ExecutionCostUSD: 10_000},
	}
	if got, ok := scorer.SelectBest(context.Background(), current, 10_000, 5, candidates); ok {
		t.Fatalf("expected break-even >= 6 months to be excluded, got %+v", got)
	}
	candidates = append(candidates, domain.Candidate{Protocol: "fast", Chain: "ethereum", APY: 6.0, ExecutionCostUSD: 49})
	got, ok := scorer.SelectBest(context.Background(), current, 10_000, 5, candidates)
	if !ok || got.Protocol != "fast" {
		t.Fatalf("expected fast candidate, got %+v ok=%v", got, ok)
	}
	if got.BreakEvenMonths >= 6 {
		t.Fatalf("selected candidate breaks even too late: %f", got.BreakEvenMonths)
	}
	if got.Method != domain.MethodDirectSwap {
		t.Fatalf("expected direct swap on same chain, got %s", got.Method)
	}
}

func TestSelectBestTieBreaks(t *testing.T) {
	scorer := newTestScorer()
	current := Current{Chain: "ethereum", APY: 5.0}
	// All three fall in the same break-even bucket and share improvement,
	// so their scores are equal.
	candidates := []domain.Candidate{
		{Protocol: "first", Chain: "base", APY: 8.0, ExecutionCostUSD: 60},
		{Protocol: "cheap", Chain: "optimism", APY: 8.0, ExecutionCostUSD: 55},
		{Protocol: "cheap-later", Chain: "arbitrum", APY: 8.0, ExecutionCostUSD: 55},
	}
	got, ok := scorer.SelectBest(context.Background(), current, 100_000, 6, candidates)
	if !ok {
		t.Fatalf("expected a strategy")
	}
	if got.Protocol != "cheap" {
		t.Fatalf("expected lowest cost then declaration order, got %s", got.Protocol)
	}

	candidates = append(candidates, domain.Candidate{Protocol: "higher", Chain: "base", APY: 9.0, ExecutionCostUSD: 60})
	got, _ = scorer.SelectBest(context.Background(), current, 100_000, 6, candidates)
	if got.Protocol != "higher" {
		t.Fatalf("expected strictly higher score to win, got %s", got.Protocol)
	}
}

func TestBreakEvenHelpers(t *testing.T) {
	if BreakEvenMonths(50, 0) != 999 {
		t.Fatalf("expected unprofitable sentinel")
	}
	if got := BreakEvenMonths(100, 1200); got != 1 {
		t.Fatalf("expected 1 month, got %f", got)
	}
	if got := AnnualProfit(10_000, 2.5); got != 250 {
		t.Fatalf("expected 250, got %f", got)
	}
}

func TestUrgencyFromLabel(t *testing.T) {
	cases := map[string]float64{"low": 3, "medium": 6, "high": 9, "": 6}
	for label, want := range cases {
		if got := UrgencyFromLabel(label); got != want {
			t.Fatalf("%q: expected %f, got %f", label, want, got)
		}
	}
}
