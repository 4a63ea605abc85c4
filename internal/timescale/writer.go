package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// RiskSnapshot is one evaluation of one position.
type RiskSnapshot struct {
	Time                   time.Time
	PositionID             string
	Protocol               string
	Chain                  string
	CollateralToken        string
	DebtToken              string
	Price                  float64
	Volatility             float64
	HealthFactor           float64
	CollateralValueUSD     float64
	DebtValueUSD           float64
	RiskLevel              string
	LiquidationProbability float64
	Urgency                float64
	Source                 string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	snapshots  chan RiskSnapshot
	alerts     chan domain.Alert
	results    chan domain.Result
	started    atomic.Bool
	dropSnap   atomic.Uint64
	dropAlert  atomic.Uint64
	dropResult atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		snapshots: make(chan RiskSnapshot, queueSize),
		alerts:    make(chan domain.Alert, queueSize),
		results:   make(chan domain.Result, queueSize),
	}
}

// Run drains the queues until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		case alert := <-w.alerts:
			w.writeAlert(ctx, alert)
		case res := <-w.results:
			w.writeResult(ctx, res)
		}
	}
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueSnapshot(snap RiskSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snap:
	default:
		if w.dropSnap.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) EnqueueAlert(alert domain.Alert) {
	if w == nil {
		return
	}
	select {
	case w.alerts <- alert:
	default:
		if w.dropAlert.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale alert queue full")
		}
	}
}

func (w *Writer) EnqueueResult(res domain.Result) {
	if w == nil {
		return
	}
	select {
	case w.results <- res:
	default:
		if w.dropResult.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale result queue full")
		}
	}
}

// Dropped reports how many rows were discarded on a full queue, per table.
func (w *Writer) Dropped() (snapshots, alerts, results uint64) {
	if w == nil {
		return 0, 0, 0
	}
	return w.dropSnap.Load(), w.dropAlert.Load(), w.dropResult.Load()
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		position_id TEXT NOT NULL,
		protocol TEXT NOT NULL,
		chain TEXT NOT NULL,
		collateral_token TEXT NOT NULL,
		debt_token TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		volatility DOUBLE PRECISION NOT NULL,
		health_factor DOUBLE PRECISION NOT NULL,
		collateral_value_usd DOUBLE PRECISION NOT NULL,
		debt_value_usd DOUBLE PRECISION NOT NULL,
		risk_level TEXT NOT NULL,
		liquidation_probability DOUBLE PRECISION NOT NULL,
		urgency DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL
	)`, w.table("risk_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		alert_id TEXT NOT NULL,
		position_id TEXT NOT NULL,
		health_factor DOUBLE PRECISION NOT NULL,
		risk_level TEXT NOT NULL,
		urgency DOUBLE PRECISION NOT NULL,
		liquidation_probability DOUBLE PRECISION NOT NULL,
		execution_priority TEXT NOT NULL DEFAULT 'LOW',
		requires_immediate_action BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (ts, alert_id)
	)`, w.table("alerts"))); err != nil {
		return err
	}
	// Tables created before the priority columns existed.
	if err := w.exec(ctx, fmt.Sprintf(`ALTER TABLE %s
		ADD COLUMN IF NOT EXISTS execution_priority TEXT NOT NULL DEFAULT 'LOW',
		ADD COLUMN IF NOT EXISTS requires_immediate_action BOOLEAN NOT NULL DEFAULT FALSE`, w.table("alerts"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		position_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		tx_count INTEGER NOT NULL,
		gas_usd DOUBLE PRECISION NOT NULL,
		message TEXT NOT NULL
	)`, w.table("execution_results"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"risk_snapshots", "alerts", "execution_results"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeSnapshot(ctx context.Context, snap RiskSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, position_id, protocol, chain, collateral_token, debt_token, price, volatility,
		health_factor, collateral_value_usd, debt_value_usd, risk_level, liquidation_probability,
		urgency, source
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	)`, w.table("risk_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.PositionID,
		snap.Protocol,
		snap.Chain,
		snap.CollateralToken,
		snap.DebtToken,
		snap.Price,
		snap.Volatility,
		snap.HealthFactor,
		snap.CollateralValueUSD,
		snap.DebtValueUSD,
		snap.RiskLevel,
		snap.LiquidationProbability,
		snap.Urgency,
		snap.Source,
	); err != nil && w.log != nil {
		w.log.Warn("timescale snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) writeAlert(ctx context.Context, alert domain.Alert) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, alert_id, position_id, health_factor, risk_level, urgency, liquidation_probability,
		execution_priority, requires_immediate_action
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)
	ON CONFLICT (ts, alert_id) DO NOTHING`, w.table("alerts"))
	if _, err := w.db.ExecContext(ctx, query,
		alert.Timestamp,
		alert.ID,
		alert.PositionID,
		alert.HealthFactor,
		string(alert.RiskLevel),
		alert.Urgency,
		alert.LiquidationProbability,
		string(alert.ExecutionPriority),
		alert.RequiresImmediateAction,
	); err != nil && w.log != nil {
		w.log.Warn("timescale alert insert failed", zap.Error(err))
	}
}

func (w *Writer) writeResult(ctx context.Context, res domain.Result) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, position_id, plan_id, success, tx_count, gas_usd, message
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)`, w.table("execution_results"))
	if _, err := w.db.ExecContext(ctx, query,
		res.Timestamp,
		res.PositionID,
		res.PlanID,
		res.Success,
		len(res.TxIDs),
		res.ActualGasUSD,
		res.Message,
	); err != nil && w.log != nil {
		w.log.Warn("timescale result insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
