package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/risk"
	"liqx-bot/internal/timescale"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (a *App) runMonitor(ctx context.Context) error {
	interval := a.cfg.Monitor.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx)
		case msg := <-a.monitorBox:
			a.handleMonitor(ctx, msg)
		}
	}
}

func (a *App) handleMonitor(ctx context.Context, msg monitorMsg) {
	switch m := msg.(type) {
	case resultMsg:
		a.handleResult(ctx, m.result)
	case resetMsg:
		delete(a.lastAlert, m.positionID)
	case digestMsg:
		a.sendDigest(ctx)
	case pruneMsg:
		a.pruneCooldowns()
	case monitorStatusMsg:
		m.reply <- monitorStatus{Tracked: len(a.positions), Alerted: len(a.lastAlert)}
	}
}

func (a *App) tick(ctx context.Context) {
	if a.isPaused() {
		a.log.Debug("monitor paused, skipping tick")
		return
	}
	if timeout := a.cfg.Monitor.CycleTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	a.refreshPositions(ctx)
	if len(a.positions) == 0 {
		return
	}
	ids := make([]string, 0, len(a.positions))
	symbols := make([]string, 0, len(a.positions))
	seen := make(map[string]struct{})
	for id, pos := range a.positions {
		ids = append(ids, id)
		if _, ok := seen[pos.CollateralToken]; !ok {
			seen[pos.CollateralToken] = struct{}{}
			symbols = append(symbols, pos.CollateralToken)
		}
	}
	sort.Strings(ids)
	sort.Strings(symbols)
	if err := a.prices.Refresh(ctx, symbols); err != nil {
		a.log.Warn("price refresh failed", zap.Error(err))
	}
	now := a.now()
	for _, id := range ids {
		if ctx.Err() != nil {
			a.log.Warn("monitor cycle timed out", zap.Int("positions", len(ids)))
			return
		}
		a.evaluate(ctx, a.positions[id], now)
	}
}

func (a *App) refreshPositions(ctx context.Context) {
	if a.indexer == nil {
		return
	}
	fetched, err := a.indexer.GetRiskyPositions(ctx, a.cfg.Monitor.RefreshThreshold, a.cfg.Monitor.RefreshLimit)
	if err != nil {
		a.log.Warn("indexer refresh failed", zap.Error(err))
		return
	}
	merged := 0
	for _, pos := range fetched {
		if pos.HealthFactor < 0 {
			a.log.Debug("skipping liquidated position", zap.String("position_id", pos.ID), zap.Float64("health_factor", pos.HealthFactor))
			continue
		}
		if existing, ok := a.positions[pos.ID]; ok && pos.LastUpdated.Before(existing.LastUpdated) {
			continue
		}
		a.positions[pos.ID] = pos
		merged++
		a.metrics.PositionsRefreshed.Inc()
	}
	a.log.Debug("positions refreshed", zap.Int("fetched", len(fetched)), zap.Int("merged", merged), zap.Int("tracked", len(a.positions)))
}

func (a *App) evaluate(ctx context.Context, pos domain.Position, now time.Time) {
	log := a.log.With(zap.String("position_id", pos.ID))
	price, err := a.prices.GetPrice(ctx, pos.CollateralToken)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			a.metrics.PriceUnavailable.Inc()
			log.Debug("price unavailable, skipping", zap.String("token", pos.CollateralToken), zap.Error(err))
			return
		}
		log.Warn("price lookup failed", zap.Error(err))
		return
	}
	vol, ok := risk.Volatility(a.prices.History(pos.CollateralToken))
	if !ok {
		vol = a.cfg.Monitor.DefaultVolatility
	}
	assess, err := a.evaluator.Evaluate(ctx, pos, price, vol)
	if err != nil {
		a.metrics.PriceUnavailable.Inc()
		log.Debug("evaluation skipped", zap.Error(err))
		return
	}
	a.timescale.EnqueueSnapshot(timescale.RiskSnapshot{
		Time:                   now,
		PositionID:             pos.ID,
		Protocol:               pos.Protocol,
		Chain:                  pos.Chain,
		CollateralToken:        pos.CollateralToken,
		DebtToken:              pos.DebtToken,
		Price:                  price,
		Volatility:             vol,
		HealthFactor:           assess.HealthFactor,
		CollateralValueUSD:     assess.CollateralValueUSD,
		DebtValueUSD:           assess.DebtValueUSD,
		RiskLevel:              string(assess.RiskLevel),
		LiquidationProbability: assess.LiquidationProbability,
		Urgency:                assess.Urgency,
		Source:                 string(assess.Source),
	})
	if assess.HealthFactor >= a.cfg.Monitor.AlertHealthFactor {
		return
	}
	if last, ok := a.lastAlert[pos.ID]; ok && now.Sub(last) < a.cfg.Monitor.AlertCooldown {
		a.metrics.AlertsSuppressed.Inc()
		log.Debug("alert suppressed by cooldown", zap.Time("last_alert", last))
		return
	}
	alert := domain.Alert{
		ID:                      uuid.NewString(),
		PositionID:              pos.ID,
		HealthFactor:            assess.HealthFactor,
		CollateralValueUSD:      assess.CollateralValueUSD,
		DebtValueUSD:            assess.DebtValueUSD,
		RiskLevel:               assess.RiskLevel,
		Urgency:                 assess.Urgency,
		LiquidationProbability:  assess.LiquidationProbability,
		ExecutionPriority:       assess.ExecutionPriority,
		RequiresImmediateAction: assess.RequiresImmediateAction,
		Source:                  assess.Source,
		Position:                pos,
		Timestamp:               now,
	}
	a.lastAlert[pos.ID] = now
	a.metrics.AlertsEmitted.Inc()
	log.Info("position at risk",
		zap.String("alert_id", alert.ID),
		zap.Float64("health_factor", alert.HealthFactor),
		zap.String("risk_level", string(alert.RiskLevel)),
		zap.Float64("urgency", alert.Urgency),
		zap.String("priority", string(alert.ExecutionPriority)),
		zap.Bool("immediate", alert.RequiresImmediateAction),
		zap.String("source", string(alert.Source)),
	)
	a.notifyAlert(ctx, alert)
	a.bus.PublishAlert(ctx, alert)
	a.timescale.EnqueueAlert(alert)
	send[scorerMsg](a, "scorer", a.scorerBox, alertMsg{alert: alert})
}

func (a *App) handleResult(ctx context.Context, res domain.Result) {
	log := a.log.With(zap.String("position_id", res.PositionID), zap.String("plan_id", res.PlanID))
	if res.Success {
		delete(a.lastAlert, res.PositionID)
		log.Info("rebalance completed", zap.Int("txs", len(res.TxIDs)), zap.Float64("gas_usd", res.ActualGasUSD))
	} else {
		log.Warn("rebalance failed", zap.String("message", res.Message))
	}
	a.notifyResult(ctx, res)
	a.bus.PublishResult(ctx, res)
	a.timescale.EnqueueResult(res)
}

// pruneCooldowns drops cooldown entries that no longer suppress anything.
func (a *App) pruneCooldowns() {
	now := a.now()
	pruned := 0
	for id, last := range a.lastAlert {
		if now.Sub(last) >= a.cfg.Monitor.AlertCooldown {
			delete(a.lastAlert, id)
			pruned++
		}
	}
	if pruned > 0 {
		a.log.Debug("cooldowns pruned", zap.Int("pruned", pruned), zap.Int("remaining", len(a.lastAlert)))
	}
}

func (a *App) sendDigest(ctx context.Context) {
	a.notify(ctx, formatDigest(a.digest()))
}

func (a *App) digest() digest {
	d := digest{Tracked: len(a.positions), Cooling: len(a.lastAlert), Worst: domain.NoDebtHealthFactor}
	for _, pos := range a.positions {
		if pos.HealthFactor < d.Worst {
			d.Worst = pos.HealthFactor
			d.WorstID = pos.ID
		}
	}
	return d
}

func (a *App) notify(ctx context.Context, message string) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("telegram send failed", zap.Error(err))
	}
}

func (a *App) notifyAlert(ctx context.Context, alert domain.Alert) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.SendAlert(ctx, alert); err != nil {
		a.log.Warn("telegram alert failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

func (a *App) notifyResult(ctx context.Context, res domain.Result) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.SendResult(ctx, res); err != nil {
		a.log.Warn("telegram result failed", zap.String("plan_id", res.PlanID), zap.Error(err))
	}
}
