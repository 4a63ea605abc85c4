package plan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"liqx-bot/internal/chains"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	protocolStepGasUSD     = 0.005
	fallbackSwapGasUSD     = 0.01
	fallbackSlippage       = 0.99
	fallbackRoute          = "fallback_estimate"
	bridgeGasUSD           = 5.0
	bridgeProtocol         = "stargate"
	defaultFusionExecution = 180 * time.Second
	perStepCompletion      = 30 * time.Second
)

type SwapQuoter interface {
	SwapQuote(ctx context.Context, fromToken, toToken string, amount float64, chain string) (domain.SwapQuote, error)
}

type CrossChainQuoter interface {
	CrossChainQuote(ctx context.Context, fromChain, toChain, fromToken, toToken string, amount float64) (domain.CrossChainQuote, error)
}

type Plan struct {
	ID                  string
	PositionID          string
	UserAddress         string
	SourceProtocol      string
	SourceChain         string
	TargetProtocol      string
	TargetChain         string
	Steps               []Step
	TotalGasUSD         float64
	EstimatedCompletion time.Duration
	CreatedAt           time.Time
}

type Planner struct {
	swaps      SwapQuoter
	crossChain CrossChainQuoter
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// NewPlanner accepts nil quoters; the corresponding step then always uses its
// fallback estimate.
func NewPlanner(swaps SwapQuoter, crossChain CrossChainQuoter, m *metrics.Metrics, log *zap.Logger) *Planner {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{swaps: swaps, crossChain: crossChain, metrics: m, log: log, now: time.Now}
}

func (p *Planner) Plan(ctx context.Context, in domain.Instruction) (Plan, error) {
	if err := validate(in); err != nil {
		return Plan{}, err
	}
	pos := in.Position
	target := in.Strategy
	sourceChain := chains.Normalize(pos.Chain)
	targetChain := chains.Normalize(target.Chain)
	log := p.log.With(zap.String("position_id", pos.ID))

	var steps []Step
	if pos.DebtAmount > 0 {
		steps = append(steps, RepayDebt{
			Protocol: pos.Protocol,
			Chain:    sourceChain,
			Asset:    pos.DebtToken,
			Amount:   pos.DebtAmount,
			Gas:      protocolStepGasUSD,
		})
	}
	steps = append(steps, WithdrawCollateral{
		Protocol: pos.Protocol,
		Chain:    sourceChain,
		Asset:    pos.CollateralToken,
		Amount:   pos.CollateralAmount,
		Gas:      protocolStepGasUSD,
	})
	if !strings.EqualFold(pos.CollateralToken, pos.DebtToken) {
		steps = append(steps, p.swapStep(ctx, log, pos, sourceChain))
	}
	if targetChain != sourceChain {
		steps = append(steps, p.crossChainStep(ctx, log, pos, sourceChain, targetChain))
	}
	steps = append(steps, SupplyCollateral{
		Protocol: target.Protocol,
		Chain:    targetChain,
		Asset:    pos.CollateralToken,
		Amount:   pos.CollateralAmount,
		Gas:      protocolStepGasUSD,
	})

	total := 0.0
	for _, s := range steps {
		total += s.GasUSD()
	}
	out := Plan{
		ID:                  uuid.NewString(),
		PositionID:          pos.ID,
		UserAddress:         pos.UserAddress,
		SourceProtocol:      pos.Protocol,
		SourceChain:         sourceChain,
		TargetProtocol:      target.Protocol,
		TargetChain:         targetChain,
		Steps:               steps,
		TotalGasUSD:         total,
		EstimatedCompletion: perStepCompletion * time.Duration(len(steps)),
		CreatedAt:           p.now(),
	}
	p.metrics.PlansBuilt.Inc()
	log.Info("plan built",
		zap.String("plan_id", out.ID),
		zap.Int("steps", len(steps)),
		zap.Float64("total_gas_usd", total),
		zap.Duration("estimated_completion", out.EstimatedCompletion),
	)
	return out, nil
}

func (p *Planner) swapStep(ctx context.Context, log *zap.Logger, pos domain.Position, chain string) Swap {
	step := Swap{
		Chain:     chain,
		FromToken: pos.CollateralToken,
		ToToken:   pos.DebtToken,
		Amount:    pos.CollateralAmount,
	}
	if p.swaps != nil {
		quote, err := p.swaps.SwapQuote(ctx, pos.CollateralToken, pos.DebtToken, pos.CollateralAmount, chain)
		if err == nil {
			step.ExpectedOutput = quote.OutputAmount
			step.Route = quote.Route
			step.Gas = quote.GasUSD
			return step
		}
		log.Warn("swap quote unavailable, using estimate", zap.Error(err))
	}
	p.metrics.QuoteFallbacks.Inc()
	step.ExpectedOutput = pos.CollateralAmount * fallbackSlippage
	step.Route = fallbackRoute
	step.Gas = fallbackSwapGasUSD
	return step
}

// crossChainStep moves the debt token across chains. The amount mirrors the
// collateral amount withdrawn on the source side.
func (p *Planner) crossChainStep(ctx context.Context, log *zap.Logger, pos domain.Position, from, to string) Step {
	if p.crossChain != nil {
		quote, err := p.crossChain.CrossChainQuote(ctx, from, to, pos.DebtToken, pos.DebtToken, pos.CollateralAmount)
		if err == nil {
			execTime := quote.ExecutionTime
			if execTime <= 0 {
				execTime = defaultFusionExecution
			}
			return FusionCrossChain{
				FromChain:      from,
				ToChain:        to,
				Asset:          pos.DebtToken,
				Amount:         pos.CollateralAmount,
				ExpectedOutput: quote.OutputAmount,
				QuoteID:        quote.QuoteID,
				ExecutionTime:  execTime,
			}
		}
		log.Warn("cross-chain quote unavailable, using bridge", zap.String("from", from), zap.String("to", to), zap.Error(err))
	}
	p.metrics.QuoteFallbacks.Inc()
	return Bridge{
		FromChain: from,
		ToChain:   to,
		Asset:     pos.DebtToken,
		Amount:    pos.CollateralAmount,
		Protocol:  bridgeProtocol,
		Gas:       bridgeGasUSD,
	}
}

func validate(in domain.Instruction) error {
	pos := in.Position
	target := in.Strategy
	switch {
	case strings.TrimSpace(pos.ID) == "":
		return fmt.Errorf("missing position id: %w", domain.ErrInvalidStrategy)
	case pos.CollateralAmount <= 0:
		return fmt.Errorf("collateral amount %.4f: %w", pos.CollateralAmount, domain.ErrInvalidStrategy)
	case pos.DebtAmount < 0:
		return fmt.Errorf("debt amount %.4f: %w", pos.DebtAmount, domain.ErrInvalidStrategy)
	case strings.TrimSpace(pos.CollateralToken) == "" || strings.TrimSpace(pos.DebtToken) == "":
		return fmt.Errorf("missing token: %w", domain.ErrInvalidStrategy)
	case strings.TrimSpace(pos.Chain) == "" || strings.TrimSpace(target.Chain) == "":
		return fmt.Errorf("missing chain: %w", domain.ErrInvalidStrategy)
	case strings.TrimSpace(pos.Protocol) == "" || strings.TrimSpace(target.Protocol) == "":
		return fmt.Errorf("missing protocol: %w", domain.ErrInvalidStrategy)
	}
	return nil
}

// Describe renders a one-line summary per step for logs and operator replies.
func Describe(s Step) string {
	switch v := s.(type) {
	case RepayDebt:
		return fmt.Sprintf("repay %.4f %s on %s/%s", v.Amount, v.Asset, v.Protocol, v.Chain)
	case WithdrawCollateral:
		return fmt.Sprintf("withdraw %.4f %s from %s/%s", v.Amount, v.Asset, v.Protocol, v.Chain)
	case Swap:
		return fmt.Sprintf("swap %.4f %s -> %s via %s", v.Amount, v.FromToken, v.ToToken, v.Route)
	case Bridge:
		return fmt.Sprintf("bridge %.4f %s %s -> %s via %s", v.Amount, v.Asset, v.FromChain, v.ToChain, v.Protocol)
	case FusionCrossChain:
		return fmt.Sprintf("fusion %.4f %s %s -> %s quote %s", v.Amount, v.Asset, v.FromChain, v.ToChain, v.QuoteID)
	case SupplyCollateral:
		return fmt.Sprintf("supply %.4f %s to %s/%s", v.Amount, v.Asset, v.Protocol, v.Chain)
	}
	return string(s.Kind())
}
