package app

import (
	"context"
	"fmt"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/plan"
	"liqx-bot/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (a *App) handleAlert(ctx context.Context, alert domain.Alert) {
	pos := alert.Position
	log := a.log.With(zap.String("position_id", pos.ID), zap.String("alert_id", alert.ID))
	if _, done := a.processed[pos.ID]; done {
		log.Debug("position already processed, ignoring alert")
		return
	}
	currentAPY := a.currentAPY(ctx, log, pos)
	top, err := a.yields.GetTopYields(ctx, currentAPY+a.cfg.Strategy.MinAPYImprovement, a.cfg.Yields.TopLimit)
	if err != nil {
		a.metrics.NoStrategy.Inc()
		log.Warn("yield lookup failed", zap.Error(err))
		return
	}
	candidates := strategy.BuildCandidates(pos, pos.Chain, top, strategy.CostModel{GasUSD: a.cfg.Strategy.DefaultGasUSD})
	amount := alert.CollateralValueUSD
	if amount <= 0 {
		amount = a.cfg.Strategy.DefaultPositionUSD
	}
	current := strategy.Current{Protocol: pos.Protocol, Chain: pos.Chain, APY: currentAPY}
	selected, ok := a.scorer.SelectBest(ctx, current, amount, alert.Urgency, candidates)
	if !ok {
		a.metrics.NoStrategy.Inc()
		log.Info("no profitable strategy", zap.Int("candidates", len(candidates)), zap.Float64("current_apy", currentAPY))
		return
	}
	a.processed[pos.ID] = struct{}{}
	a.metrics.StrategiesSelected.Inc()
	in := domain.Instruction{
		ID:       uuid.NewString(),
		AlertID:  alert.ID,
		Position: pos,
		Strategy: selected,
	}
	log.Info("strategy selected",
		zap.String("protocol", selected.Protocol),
		zap.String("chain", selected.Chain),
		zap.Float64("apy", selected.APY),
		zap.Float64("score", selected.Score),
		zap.String("method", string(selected.Method)),
		zap.String("reasoning", selected.Reasoning),
	)
	a.bus.PublishSelected(ctx, in)
	send(a, "planner", a.plannerBox, in)
}

func (a *App) currentAPY(ctx context.Context, log *zap.Logger, pos domain.Position) float64 {
	apy, ok, err := a.yields.GetAPY(ctx, pos.Protocol, pos.Chain, pos.CollateralToken)
	if err != nil {
		log.Warn("current apy lookup failed", zap.Error(err))
	}
	if err != nil || !ok {
		return a.cfg.Yields.DefaultCurrentAPY
	}
	return apy
}

func (a *App) handleInstruction(ctx context.Context, in domain.Instruction) {
	p, err := a.planner.Plan(ctx, in)
	if err != nil {
		a.log.Warn("planning failed", zap.String("position_id", in.Position.ID), zap.Error(err))
		send[monitorMsg](a, "monitor", a.monitorBox, resultMsg{result: domain.Result{
			PositionID: in.Position.ID,
			Success:    false,
			TxIDs:      []string{},
			Message:    fmt.Sprintf("Planning error: %v", err),
			Timestamp:  a.now(),
		}})
		return
	}
	a.bus.PublishPlan(ctx, p)
	send[executorMsg](a, "executor", a.executorBox, planMsg{plan: p})
}

func (a *App) handlePlan(ctx context.Context, p plan.Plan) {
	res, ok := a.executor.Execute(ctx, p)
	if !ok {
		return
	}
	send[monitorMsg](a, "monitor", a.monitorBox, resultMsg{result: res})
}
