package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/plan"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes on a redis pub/sub channel.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedis connects and pings. It returns nil when the bus is disabled.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisPublisher{rdb: rdb}, nil
}

func (r *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams raw payloads from channel until ctx is done.
func (r *RedisPublisher) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := r.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisPublisher) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Bus publishes pipeline events. A nil Bus or a nil publisher is a no-op.
type Bus struct {
	pub      Publisher
	channel  string
	log      *zap.Logger
	failures atomic.Uint64
}

func New(pub Publisher, channel string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{pub: pub, channel: channel, log: log}
}

func (b *Bus) Failures() uint64 {
	if b == nil {
		return 0
	}
	return b.failures.Load()
}

type alertPayload struct {
	HealthFactor            float64 `json:"health_factor"`
	RiskLevel               string  `json:"risk_level"`
	Urgency                 float64 `json:"urgency"`
	LiquidationProbability  float64 `json:"liquidation_probability"`
	ExecutionPriority       string  `json:"execution_priority"`
	RequiresImmediateAction bool    `json:"requires_immediate_action"`
	CollateralValueUSD      float64 `json:"collateral_value_usd"`
	DebtValueUSD            float64 `json:"debt_value_usd"`
	Source                  string  `json:"source"`
}

type selectedPayload struct {
	AlertID        string  `json:"alert_id"`
	Protocol       string  `json:"protocol"`
	Chain          string  `json:"chain"`
	Token          string  `json:"token"`
	APY            float64 `json:"apy"`
	APYImprovement float64 `json:"apy_improvement"`
	Score          float64 `json:"score"`
	Method         string  `json:"method"`
	Reasoning      string  `json:"reasoning"`
}

type planPayload struct {
	Steps       []string `json:"steps"`
	TotalGasUSD float64  `json:"total_gas_usd"`
	EtaSeconds  float64  `json:"eta_seconds"`
}

type resultPayload struct {
	PlanID       string   `json:"plan_id"`
	Success      bool     `json:"success"`
	TxIDs        []string `json:"tx_ids"`
	Message      string   `json:"message"`
	ActualGasUSD float64  `json:"actual_gas_usd"`
}

func (b *Bus) PublishAlert(ctx context.Context, a domain.Alert) {
	b.publish(ctx, Event{
		Kind:       KindAlert,
		ID:         a.ID,
		PositionID: a.PositionID,
		Time:       a.Timestamp,
		Payload: alertPayload{
			HealthFactor:            a.HealthFactor,
			RiskLevel:               string(a.RiskLevel),
			Urgency:                 a.Urgency,
			LiquidationProbability:  a.LiquidationProbability,
			ExecutionPriority:       string(a.ExecutionPriority),
			RequiresImmediateAction: a.RequiresImmediateAction,
			CollateralValueUSD:      a.CollateralValueUSD,
			DebtValueUSD:            a.DebtValueUSD,
			Source:                  string(a.Source),
		},
	})
}

func (b *Bus) PublishSelected(ctx context.Context, in domain.Instruction) {
	s := in.Strategy
	b.publish(ctx, Event{
		Kind:       KindSelected,
		ID:         in.ID,
		PositionID: in.Position.ID,
		Time:       time.Now().UTC(),
		Payload: selectedPayload{
			AlertID:        in.AlertID,
			Protocol:       s.Protocol,
			Chain:          s.Chain,
			Token:          s.Token,
			APY:            s.APY,
			APYImprovement: s.APYImprovement,
			Score:          s.Score,
			Method:         string(s.Method),
			Reasoning:      s.Reasoning,
		},
	})
}

func (b *Bus) PublishPlan(ctx context.Context, p plan.Plan) {
	steps := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, plan.Describe(s))
	}
	b.publish(ctx, Event{
		Kind:       KindPlan,
		ID:         p.ID,
		PositionID: p.PositionID,
		Time:       p.CreatedAt,
		Payload: planPayload{
			Steps:       steps,
			TotalGasUSD: p.TotalGasUSD,
			EtaSeconds:  p.EstimatedCompletion.Seconds(),
		},
	})
}

func (b *Bus) PublishResult(ctx context.Context, r domain.Result) {
	b.publish(ctx, Event{
		Kind:       KindResult,
		ID:         r.PlanID,
		PositionID: r.PositionID,
		Time:       r.Timestamp,
		Payload: resultPayload{
			PlanID:       r.PlanID,
			Success:      r.Success,
			TxIDs:        r.TxIDs,
			Message:      r.Message,
			ActualGasUSD: r.ActualGasUSD,
		},
	})
}

func (b *Bus) publish(ctx context.Context, ev Event) {
	if b == nil || b.pub == nil {
		return
	}
	data, err := Encode(ev)
	if err != nil {
		b.log.Warn("event encode failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, b.channel, data); err != nil {
		if b.failures.Add(1) == 1 {
			b.log.Warn("event publish failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	}
}
