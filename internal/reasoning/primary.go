package reasoning

import (
	"context"
	"strings"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/metrics"
	"liqx-bot/internal/rest"

	"go.uber.org/zap"
)

// Primary calls a remote reasoning service. Any failed call is answered by
// the closed-form engine and flagged as such.
type Primary struct {
	client   *rest.Client
	fallback Fallback
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewPrimary(client *rest.Client, m *metrics.Metrics, log *zap.Logger) *Primary {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Primary{client: client, metrics: m, log: log}
}

func (p *Primary) Source() domain.Source { return domain.SourcePrimary }

func (p *Primary) AssessRisk(ctx context.Context, in RiskInput) RiskOutput {
	var resp struct {
		LiquidationProbability *float64 `json:"liquidation_probability"`
		Urgency                *float64 `json:"urgency"`
	}
	if err := p.client.PostJSON(ctx, "/risk", in, &resp); err != nil || resp.LiquidationProbability == nil || resp.Urgency == nil {
		p.degraded("risk", err)
		return p.fallback.AssessRisk(ctx, in)
	}
	return RiskOutput{
		LiquidationProbability: clamp(*resp.LiquidationProbability, 0, 100),
		Urgency:                clamp(*resp.Urgency, 0, 10),
		Source:                 domain.SourcePrimary,
	}
}

func (p *Primary) Score(ctx context.Context, in ScoreInput) ScoreOutput {
	var resp struct {
		Score *float64 `json:"score"`
	}
	if err := p.client.PostJSON(ctx, "/score", in, &resp); err != nil || resp.Score == nil {
		p.degraded("score", err)
		return p.fallback.Score(ctx, in)
	}
	return ScoreOutput{Score: clamp(*resp.Score, 0, 100), Source: domain.SourcePrimary}
}

func (p *Primary) Method(ctx context.Context, in MethodInput) MethodOutput {
	var resp struct {
		Method string `json:"method"`
	}
	if err := p.client.PostJSON(ctx, "/method", in, &resp); err != nil {
		p.degraded("method", err)
		return p.fallback.Method(ctx, in)
	}
	method := domain.Method(strings.TrimSpace(resp.Method))
	if !knownMethod(method) {
		p.degraded("method", nil)
		return p.fallback.Method(ctx, in)
	}
	return MethodOutput{Method: method, Source: domain.SourcePrimary}
}

func (p *Primary) degraded(call string, err error) {
	p.metrics.ReasoningFallbacks.Inc()
	if p.log == nil {
		return
	}
	if err != nil {
		p.log.Warn("reasoning call failed, using closed form", zap.String("call", call), zap.Error(err))
		return
	}
	p.log.Warn("reasoning response incomplete, using closed form", zap.String("call", call))
}

func knownMethod(m domain.Method) bool {
	switch m {
	case domain.MethodDirectSwap, domain.MethodLayerZeroPYUSD, domain.MethodFusion, domain.MethodStandardBridge:
		return true
	}
	return false
}
