package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liqx-bot/internal/alerts"
	"liqx-bot/internal/bus"
	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/exec"
	"liqx-bot/internal/indexer"
	"liqx-bot/internal/metrics"
	"liqx-bot/internal/plan"
	"liqx-bot/internal/prices"
	"liqx-bot/internal/quotes"
	"liqx-bot/internal/reasoning"
	"liqx-bot/internal/risk"
	"liqx-bot/internal/state"
	"liqx-bot/internal/state/sqlite"
	"liqx-bot/internal/strategy"
	"liqx-bot/internal/timescale"
	"liqx-bot/internal/ws"
	"liqx-bot/internal/yields"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Indexer interface {
	GetRiskyPositions(ctx context.Context, threshold float64, limit int) ([]domain.Position, error)
}

type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	Refresh(ctx context.Context, symbols []string) error
	History(symbol string) []float64
}

type YieldSource interface {
	GetAPY(ctx context.Context, protocol, chain, token string) (float64, bool, error)
	GetTopYields(ctx context.Context, minAPY float64, limit int) ([]domain.Yield, error)
}

// Messenger delivers notifications and reads operator commands.
type Messenger interface {
	Send(ctx context.Context, message string) error
	SendAlert(ctx context.Context, alert domain.Alert) error
	SendResult(ctx context.Context, res domain.Result) error
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
}

// Dependencies are the collaborators the pipeline runs against. Nil optional
// fields disable the matching feature.
type Dependencies struct {
	Store     state.Store
	Metrics   *metrics.Metrics
	Indexer   Indexer
	Prices    PriceSource
	Yields    YieldSource
	Engine    reasoning.Engine
	Planner   *plan.Planner
	Executor  *exec.Executor
	Alerts    Messenger
	Bus       *bus.Bus
	Timescale *timescale.Writer
	// PriceStream runs until ctx is done.
	PriceStream func(ctx context.Context) error
}

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   state.Store
	metrics *metrics.Metrics
	prom    *metrics.Prometheus

	indexer     Indexer
	prices      PriceSource
	yields      YieldSource
	evaluator   *risk.Evaluator
	scorer      *strategy.Scorer
	planner     *plan.Planner
	executor    *exec.Executor
	alerts      Messenger
	bus         *bus.Bus
	timescale   *timescale.Writer
	priceStream func(ctx context.Context) error
	closers     []func() error

	monitorBox  chan monitorMsg
	scorerBox   chan scorerMsg
	plannerBox  chan domain.Instruction
	executorBox chan executorMsg

	// Owned by the monitor actor.
	positions map[string]domain.Position
	lastAlert map[string]time.Time
	// Owned by the scorer actor.
	processed map[string]struct{}

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool

	now func() time.Time
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	engine := reasoning.Select(ctx, cfg.Reasoning, m, log)

	var stream *ws.Client
	if cfg.Prices.StreamURL != "" {
		stream = ws.New(cfg.Prices.StreamURL, cfg.Prices.StreamBackoff, cfg.Prices.StreamPing, log)
	}
	priceSource := prices.New(prices.NewClient(cfg.Prices, log), stream, cfg.Prices, log)

	swaps := quotes.NewSwap(quotes.NewSwapClient(cfg.Swap, log), priceSource, cfg.Swap, log)
	var crossChain plan.CrossChainQuoter
	if cfg.CrossChain.Enabled {
		crossChain = quotes.NewFusion(quotes.NewFusionClient(cfg.CrossChain, log), cfg.CrossChain, log)
	}

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}
	redisPub, err := bus.NewRedis(ctx, cfg.Redis)
	if err != nil {
		_ = store.Close()
		_ = writer.Close()
		return nil, err
	}
	var publisher bus.Publisher
	if redisPub != nil {
		publisher = redisPub
	}
	events := bus.New(publisher, cfg.Redis.Channel, log)

	deps := Dependencies{
		Store:     store,
		Metrics:   m,
		Indexer:   indexer.New(indexer.NewClient(cfg.Indexer, log), cfg.Indexer, log),
		Prices:    priceSource,
		Yields:    yields.New(yields.NewClient(cfg.Yields, log), cfg.Yields, log),
		Engine:    engine,
		Planner:   plan.NewPlanner(swaps, crossChain, m, log),
		Executor:  exec.New(exec.RealWaiter(), cfg.Executor.TimeUnit, store, m, log),
		Alerts:    alerts.NewTelegram(cfg.Telegram, log),
		Bus:       events,
		Timescale: writer,
	}
	if stream != nil {
		deps.PriceStream = priceSource.Run
	}
	a := newApp(cfg, log, deps)
	a.prom = prom
	exportTotals(prom, events, stream, writer)
	a.closers = append(a.closers, writer.Close, redisPub.Close)
	if stream != nil {
		a.closers = append(a.closers, stream.Close)
	}
	return a, nil
}

// exportTotals publishes the totals that the bus, the price stream and the
// timescale writer keep for themselves.
func exportTotals(prom *metrics.Prometheus, events *bus.Bus, stream *ws.Client, writer *timescale.Writer) {
	if prom == nil {
		return
	}
	prom.Sample("bus_publish_failures_total", "Total number of event bus publishes that failed.", events.Failures)
	if stream != nil {
		prom.Sample("price_stream_frames_total", "Total number of frames read from the price stream.", stream.Frames)
		prom.Sample("price_stream_reconnects_total", "Total number of price stream reconnects.", stream.Reconnects)
	}
	if writer != nil {
		prom.Sample("timescale_dropped_snapshots_total", "Total number of risk snapshots dropped on a full buffer.", func() uint64 {
			n, _, _ := writer.Dropped()
			return n
		})
		prom.Sample("timescale_dropped_alerts_total", "Total number of alerts dropped on a full buffer.", func() uint64 {
			_, n, _ := writer.Dropped()
			return n
		})
		prom.Sample("timescale_dropped_results_total", "Total number of results dropped on a full buffer.", func() uint64 {
			_, _, n := writer.Dropped()
			return n
		})
	}
}

func newApp(cfg *config.Config, log *zap.Logger, deps Dependencies) *App {
	if log == nil {
		log = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	mailbox := cfg.Monitor.MailboxSize
	if mailbox <= 0 {
		mailbox = 64
	}
	executor := deps.Executor
	if executor == nil {
		executor = exec.New(nil, cfg.Executor.TimeUnit, deps.Store, m, log)
	}
	planner := deps.Planner
	if planner == nil {
		planner = plan.NewPlanner(nil, nil, m, log)
	}
	return &App{
		cfg:         cfg,
		log:         log,
		store:       deps.Store,
		metrics:     m,
		indexer:     deps.Indexer,
		prices:      deps.Prices,
		yields:      deps.Yields,
		evaluator:   risk.NewEvaluator(deps.Engine, cfg.Monitor.LiquidationThreshold),
		scorer:      strategy.NewScorer(deps.Engine, strategy.Config{MinImprovement: cfg.Strategy.MinAPYImprovement, MaxBreakEvenMonths: cfg.Strategy.MaxBreakEvenMonths}),
		planner:     planner,
		executor:    executor,
		alerts:      deps.Alerts,
		bus:         deps.Bus,
		timescale:   deps.Timescale,
		priceStream: deps.PriceStream,
		monitorBox:  make(chan monitorMsg, mailbox),
		scorerBox:   make(chan scorerMsg, mailbox),
		plannerBox:  make(chan domain.Instruction, mailbox),
		executorBox: make(chan executorMsg, mailbox),
		positions:   make(map[string]domain.Position),
		lastAlert:   make(map[string]time.Time),
		processed:   make(map[string]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startSchedule(ctx, g); err != nil {
		return err
	}
	g.Go(func() error { return a.runMonitor(ctx) })
	g.Go(func() error { return a.runScorer(ctx) })
	g.Go(func() error { return a.runPlanner(ctx) })
	g.Go(func() error { return a.runExecutor(ctx) })
	if a.timescale != nil {
		g.Go(func() error { return a.timescale.Run(ctx) })
	}
	if a.priceStream != nil {
		g.Go(func() error {
			if err := a.priceStream(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("price stream stopped", zap.Error(err))
			}
			return nil
		})
	}
	a.startOperator(ctx, g)
	a.startMetricsServer(ctx, g)
	a.log.Info("pipeline started",
		zap.Duration("poll_interval", a.cfg.Monitor.PollInterval),
		zap.Float64("alert_health_factor", a.cfg.Monitor.AlertHealthFactor),
	)
	return g.Wait()
}

func (a *App) startMetricsServer(ctx context.Context, g *errgroup.Group) {
	if a.prom == nil {
		return
	}
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           a.prom.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.log.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.log.Debug("close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
	}
}
