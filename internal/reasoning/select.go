package reasoning

import (
	"context"
	"time"

	"liqx-bot/internal/config"
	"liqx-bot/internal/metrics"
	"liqx-bot/internal/rest"

	"go.uber.org/zap"
)

const healthTimeout = 5 * time.Second

// Select picks the engine for the lifetime of the process. The primary engine
// is used only when it is enabled and answers its health check.
func Select(ctx context.Context, cfg config.ReasoningConfig, m *metrics.Metrics, log *zap.Logger) Engine {
	if !cfg.Enabled || cfg.URL == "" {
		log.Info("reasoning engine: closed form")
		return NewFallback()
	}
	client := rest.New(cfg.URL, cfg.Timeout, log, rest.WithRetries(0, 0))
	healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	var health struct {
		Status string `json:"status"`
	}
	if err := client.GetJSON(healthCtx, "/health", nil, &health); err != nil {
		log.Warn("reasoning engine unreachable, using closed form", zap.String("url", cfg.URL), zap.Error(err))
		return NewFallback()
	}
	log.Info("reasoning engine: primary", zap.String("url", cfg.URL), zap.String("status", health.Status))
	return NewPrimary(client, m, log)
}
