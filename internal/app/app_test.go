package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"liqx-bot/internal/alerts"
	"liqx-bot/internal/bus"
	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/exec"
	"liqx-bot/internal/metrics"
	"liqx-bot/internal/state"
	"liqx-bot/internal/ws"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]state.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []state.Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, state.Entry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}

type fakeIndexer struct {
	positions []domain.Position
}

func (f *fakeIndexer) GetRiskyPositions(context.Context, float64, int) ([]domain.Position, error) {
	return f.positions, nil
}

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) GetPrice(_ context.Context, symbol string) (float64, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return p, nil
}

func (f *fakePrices) Refresh(context.Context, []string) error { return nil }
func (f *fakePrices) History(string) []float64                { return nil }

type fakeYields struct {
	current float64
	top     []domain.Yield
}

func (f *fakeYields) GetAPY(context.Context, string, string, string) (float64, bool, error) {
	return f.current, f.current > 0, nil
}

func (f *fakeYields) GetTopYields(context.Context, float64, int) ([]domain.Yield, error) {
	return f.top, nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) Send(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeMessenger) SendAlert(ctx context.Context, alert domain.Alert) error {
	return f.Send(ctx, alerts.FormatAlert(alert))
}

func (f *fakeMessenger) SendResult(ctx context.Context, res domain.Result) error {
	return f.Send(ctx, alerts.FormatResult(res))
}

func (f *fakeMessenger) GetUpdates(context.Context, int64, time.Duration) ([]alerts.Update, error) {
	return nil, nil
}

func (f *fakeMessenger) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type zeroWaiter struct{}

func (zeroWaiter) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// wethPosition evaluates to a health factor of about 0.9625 at 2696.
func wethPosition() domain.Position {
	return domain.Position{
		ID:               "0xpos1",
		UserAddress:      "0x52908400098527886E0F7030069857D2E4169EE7",
		Protocol:         "aave-v3",
		Chain:            "ethereum",
		CollateralToken:  "WETH",
		CollateralAmount: 10.5,
		DebtToken:        "USDC",
		DebtAmount:       25000,
		HealthFactor:     0.96,
		LastUpdated:      time.Unix(1_700_000_000, 0),
	}
}

type fixture struct {
	app       *App
	store     *memoryStore
	messenger *fakeMessenger
	yields    *fakeYields
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Monitor.PollInterval = time.Hour
	cfg.Monitor.CycleTimeout = 0
	cfg.Schedule.Prune = ""
	store := &memoryStore{data: make(map[string]string)}
	messenger := &fakeMessenger{}
	yields := &fakeYields{}
	f := &fixture{store: store, messenger: messenger, yields: yields, now: time.Unix(1_700_000_100, 0).UTC()}
	f.app = newApp(cfg, zap.NewNop(), Dependencies{
		Store:    store,
		Indexer:  &fakeIndexer{positions: []domain.Position{wethPosition()}},
		Prices:   &fakePrices{prices: map[string]float64{"WETH": 2696}},
		Yields:   yields,
		Executor: exec.New(zeroWaiter{}, time.Millisecond, store, nil, zap.NewNop()),
		Alerts:   messenger,
	})
	f.app.now = func() time.Time { return f.now }
	return f
}

func drainAlerts(a *App) []domain.Alert {
	var out []domain.Alert
	for {
		select {
		case msg := <-a.scorerBox:
			if m, ok := msg.(alertMsg); ok {
				out = append(out, m.alert)
			}
		default:
			return out
		}
	}
}

func TestCooldownSuppressesRepeatAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.app.tick(ctx)
	f.now = f.now.Add(time.Minute)
	f.app.tick(ctx)
	got := drainAlerts(f.app)
	if len(got) != 1 {
		t.Fatalf("expected one alert within cooldown, got %d", len(got))
	}
	alert := got[0]
	if alert.RiskLevel != domain.RiskCritical || alert.Urgency < 8 {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if alert.HealthFactor < 0.962 || alert.HealthFactor > 0.963 {
		t.Fatalf("expected hf ~0.9625, got %f", alert.HealthFactor)
	}
	if alert.ExecutionPriority != domain.PriorityEmergency || !alert.RequiresImmediateAction {
		t.Fatalf("expected emergency alert needing immediate action, got %s %v", alert.ExecutionPriority, alert.RequiresImmediateAction)
	}
	if msgs := f.messenger.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "EMERGENCY priority") {
		t.Fatalf("expected priority in telegram alert, got %v", msgs)
	}

	f.now = f.now.Add(f.app.cfg.Monitor.AlertCooldown)
	f.app.tick(ctx)
	if got := drainAlerts(f.app); len(got) != 1 {
		t.Fatalf("expected a new alert after cooldown, got %d", len(got))
	}
	if n := len(f.messenger.messages()); n != 2 {
		t.Fatalf("expected 2 telegram alerts, got %d", n)
	}
}

func TestSuccessfulResultClearsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.app.tick(ctx)
	f.app.handleMonitor(ctx, resultMsg{result: domain.Result{PositionID: "0xpos1", Success: true, Message: "Executed 4 steps successfully"}})
	f.app.tick(ctx)
	if got := drainAlerts(f.app); len(got) != 2 {
		t.Fatalf("expected result to clear cooldown, got %d alerts", len(got))
	}

	f.app.handleMonitor(ctx, resultMsg{result: domain.Result{PositionID: "0xpos1", Success: false, Message: "Execution error: x"}})
	f.app.tick(ctx)
	if got := drainAlerts(f.app); len(got) != 0 {
		t.Fatalf("expected failed result to keep cooldown, got %d alerts", len(got))
	}
}

func TestHealthyPositionDoesNotAlert(t *testing.T) {
	f := newFixture(t)
	f.app.prices = &fakePrices{prices: map[string]float64{"WETH": 5000}}
	f.app.tick(context.Background())
	if got := drainAlerts(f.app); len(got) != 0 {
		t.Fatalf("expected no alert for hf above threshold, got %d", len(got))
	}
	if len(f.app.positions) != 1 {
		t.Fatalf("expected position to be tracked")
	}
}

func TestMissingPriceSkipsPosition(t *testing.T) {
	f := newFixture(t)
	f.app.prices = &fakePrices{prices: map[string]float64{}}
	f.app.tick(context.Background())
	if got := drainAlerts(f.app); len(got) != 0 {
		t.Fatalf("expected no alert without a price, got %d", len(got))
	}
}

func TestRefreshSkipsLiquidatedAndKeepsNewer(t *testing.T) {
	f := newFixture(t)
	liquidated := wethPosition()
	liquidated.ID = "0xgone"
	liquidated.HealthFactor = -1
	stale := wethPosition()
	stale.CollateralAmount = 1
	stale.LastUpdated = stale.LastUpdated.Add(-time.Hour)
	f.app.positions["0xpos1"] = wethPosition()
	f.app.indexer = &fakeIndexer{positions: []domain.Position{liquidated, stale}}

	f.app.refreshPositions(context.Background())
	if _, ok := f.app.positions["0xgone"]; ok {
		t.Fatalf("expected liquidated position to be skipped")
	}
	if f.app.positions["0xpos1"].CollateralAmount != 10.5 {
		t.Fatalf("expected older row not to overwrite newer one")
	}
}

func TestPausedMonitorSkipsTick(t *testing.T) {
	f := newFixture(t)
	f.app.setPaused(true)
	f.app.tick(context.Background())
	if len(f.app.positions) != 0 {
		t.Fatalf("expected paused tick to do nothing")
	}
}

func TestNoStrategyBuildsNoPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.yields.current = 5.2
	f.yields.top = []domain.Yield{{Protocol: "spark", Chain: "ethereum", Token: "WETH", APY: 5.4, TVLUSD: 5e6}}

	f.app.tick(ctx)
	raised := drainAlerts(f.app)
	if len(raised) != 1 {
		t.Fatalf("expected one alert, got %d", len(raised))
	}
	f.app.handleAlert(ctx, raised[0])
	if len(f.app.plannerBox) != 0 {
		t.Fatalf("expected no instruction without a profitable strategy")
	}
	if _, ok := f.app.processed["0xpos1"]; ok {
		t.Fatalf("expected position not to be marked processed")
	}
}

func TestScorerProcessesPositionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.yields.current = 5.2
	f.yields.top = []domain.Yield{{Protocol: "compound-v3", Chain: "ethereum", Token: "WETH", APY: 9.1, TVLUSD: 5e7}}

	f.app.tick(ctx)
	alert := drainAlerts(f.app)[0]
	f.app.handleAlert(ctx, alert)
	f.app.handleAlert(ctx, alert)
	if len(f.app.plannerBox) != 1 {
		t.Fatalf("expected exactly one instruction, got %d", len(f.app.plannerBox))
	}
	in := <-f.app.plannerBox
	if in.Strategy.Protocol != "compound-v3" || in.AlertID != alert.ID || in.ID == "" {
		t.Fatalf("unexpected instruction %+v", in)
	}

	f.app.processed["0xpos1"] = struct{}{}
	f.app.lastAlert["0xpos1"] = f.now
	f.app.handleScorer(ctx, resetMsg{positionID: "0xpos1"})
	f.app.handleMonitor(ctx, resetMsg{positionID: "0xpos1"})
	if _, ok := f.app.processed["0xpos1"]; ok {
		t.Fatalf("expected reset to clear processed flag")
	}
	if _, ok := f.app.lastAlert["0xpos1"]; ok {
		t.Fatalf("expected reset to clear cooldown")
	}
}

func TestInvalidInstructionRoutesFailedResult(t *testing.T) {
	f := newFixture(t)
	f.app.handleInstruction(context.Background(), domain.Instruction{Position: domain.Position{ID: "0xpos1"}})
	select {
	case msg := <-f.app.monitorBox:
		res, ok := msg.(resultMsg)
		if !ok || res.result.Success || res.result.PositionID != "0xpos1" {
			t.Fatalf("unexpected monitor message %#v", msg)
		}
	default:
		t.Fatalf("expected failed result on the monitor mailbox")
	}
	if len(f.app.executorBox) != 0 {
		t.Fatalf("expected no plan for an invalid instruction")
	}
}

func TestSendDropsOnFullMailbox(t *testing.T) {
	f := newFixture(t)
	f.app.plannerBox = make(chan domain.Instruction, 1)
	if !send(f.app, "planner", f.app.plannerBox, domain.Instruction{ID: "a"}) {
		t.Fatalf("expected first send to succeed")
	}
	if send(f.app, "planner", f.app.plannerBox, domain.Instruction{ID: "b"}) {
		t.Fatalf("expected second send to be dropped")
	}
}

func TestPruneCooldowns(t *testing.T) {
	f := newFixture(t)
	f.app.lastAlert["old"] = f.now.Add(-time.Hour)
	f.app.lastAlert["fresh"] = f.now
	f.app.pruneCooldowns()
	if _, ok := f.app.lastAlert["old"]; ok {
		t.Fatalf("expected expired cooldown to be pruned")
	}
	if _, ok := f.app.lastAlert["fresh"]; !ok {
		t.Fatalf("expected active cooldown to survive")
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.yields.current = 5.2
	f.yields.top = []domain.Yield{{Protocol: "aave-v3", Chain: "arbitrum", Token: "USDC", APY: 9.1, TVLUSD: 5e7}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	var record state.ExecutionRecord
	for {
		rec, ok, err := state.LoadExecutionRecord(ctx, f.store, "0xpos1")
		if err != nil {
			t.Fatalf("load record: %v", err)
		}
		if ok {
			record = rec
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("pipeline did not produce a result")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !record.Success || len(record.TxIDs) == 0 {
		t.Fatalf("expected successful execution, got %+v", record)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := f.messenger.messages()
		if len(msgs) >= 2 && strings.HasPrefix(msgs[len(msgs)-1], "Rebalanced") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected alert and result notifications, got %v", msgs)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := f.app.executor.State("0xpos1"); got != exec.StateCompleted {
		t.Fatalf("expected completed state, got %s", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

type downPublisher struct{}

func (downPublisher) Publish(context.Context, string, []byte) error {
	return errors.New("redis down")
}

func TestExportTotalsServesComponentCounters(t *testing.T) {
	prom := metrics.NewPrometheus()
	events := bus.New(downPublisher{}, "liqx:events", zap.NewNop())
	stream := ws.New("ws://127.0.0.1:1/prices", time.Second, time.Second, zap.NewNop())
	exportTotals(prom, events, stream, nil)

	ctx := context.Background()
	events.PublishResult(ctx, domain.Result{PositionID: "0xpos1"})
	events.PublishResult(ctx, domain.Result{PositionID: "0xpos1"})

	server := httptest.NewServer(prom.Router())
	defer server.Close()
	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"liqx_bot_bus_publish_failures_total 2",
		"liqx_bot_price_stream_frames_total 0",
		"liqx_bot_price_stream_reconnects_total 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output, got %s", want, body)
		}
	}
	if strings.Contains(string(body), "timescale_dropped") {
		t.Fatalf("expected no timescale totals without a writer")
	}
	exportTotals(nil, events, stream, nil)
}
