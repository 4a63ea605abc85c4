package exec

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/metrics"
	"liqx-bot/internal/plan"
	"liqx-bot/internal/state"

	"go.uber.org/zap"
)

// Step delays in time units.
const (
	protocolStepUnits  = 2
	swapUnits          = 3
	bridgeUnits        = 10
	fusionUnits        = 30
	fusionUpdates      = 6
	defaultTimeUnit    = time.Second
	bridgeProgressStep = 10
)

const (
	txRepay    = "1"
	txWithdraw = "2"
	txSwap     = "3"
	txBridge   = "4"
	txSupply   = "5"
)

var txFusion = "0xfusion" + strings.Repeat("0", 56)

func placeholderTx(suffix string) string {
	return "0x" + strings.Repeat("0", 63) + suffix
}

type Executor struct {
	waiter  Waiter
	unit    time.Duration
	store   state.Store
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	machines map[string]*StateMachine
}

func New(waiter Waiter, unit time.Duration, store state.Store, m *metrics.Metrics, log *zap.Logger) *Executor {
	if waiter == nil {
		waiter = timeWaiter{}
	}
	if unit <= 0 {
		unit = defaultTimeUnit
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		waiter:   waiter,
		unit:     unit,
		store:    store,
		metrics:  m,
		log:      log,
		now:      time.Now,
		machines: make(map[string]*StateMachine),
	}
}

// Execute runs the plan's steps in order. It returns false without running
// anything when the position is not idle.
func (e *Executor) Execute(ctx context.Context, p plan.Plan) (domain.Result, bool) {
	log := e.log.With(zap.String("position_id", p.PositionID), zap.String("plan_id", p.ID))
	if !e.begin(p.PositionID) {
		e.metrics.DuplicatePlans.Inc()
		log.Info("plan ignored, position not idle", zap.String("state", string(e.State(p.PositionID))))
		return domain.Result{}, false
	}

	log.Info("executing plan", zap.Int("steps", len(p.Steps)), zap.Float64("total_gas_usd", p.TotalGasUSD))
	txs, gas, err := e.run(ctx, log, p)
	res := domain.Result{
		PositionID: p.PositionID,
		PlanID:     p.ID,
		Timestamp:  e.now(),
	}
	if err != nil {
		e.machine(p.PositionID).Apply(EventFail)
		e.metrics.ExecutionsFailed.Inc()
		res.Success = false
		res.TxIDs = []string{}
		res.Message = fmt.Sprintf("Execution error: %v", err)
		log.Warn("plan failed", zap.Error(err))
	} else {
		e.machine(p.PositionID).Apply(EventSucceed)
		e.metrics.ExecutionsSucceeded.Inc()
		res.Success = true
		res.TxIDs = txs
		res.ActualGasUSD = gas
		res.Message = fmt.Sprintf("Executed %d steps successfully", len(p.Steps))
		log.Info("plan completed", zap.Int("txs", len(txs)), zap.Float64("gas_usd", gas))
	}
	e.journal(ctx, log, res)
	return res, true
}

func (e *Executor) begin(positionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sm, ok := e.machines[positionID]
	if !ok {
		sm = NewStateMachine()
		e.machines[positionID] = sm
	}
	if sm.Current() != StateIdle {
		return false
	}
	sm.Apply(EventStart)
	return true
}

func (e *Executor) machine(positionID string) *StateMachine {
	e.mu.Lock()
	defer e.mu.Unlock()
	sm, ok := e.machines[positionID]
	if !ok {
		sm = NewStateMachine()
		e.machines[positionID] = sm
	}
	return sm
}

func (e *Executor) run(ctx context.Context, log *zap.Logger, p plan.Plan) ([]string, float64, error) {
	txs := make([]string, 0, len(p.Steps))
	gas := 0.0
	for i, step := range p.Steps {
		if step == nil {
			log.Warn("unknown step skipped", zap.Int("index", i))
			continue
		}
		log.Info("step", zap.Int("index", i+1), zap.Int("of", len(p.Steps)), zap.String("kind", string(step.Kind())), zap.String("detail", plan.Describe(step)))
		tx, err := e.runStep(ctx, log, step)
		if err != nil {
			return nil, 0, fmt.Errorf("step %d %s: %w: %w", i+1, step.Kind(), domain.ErrStepExecution, err)
		}
		if tx == "" {
			continue
		}
		txs = append(txs, tx)
		gas += step.GasUSD()
	}
	return txs, gas, nil
}

func (e *Executor) runStep(ctx context.Context, log *zap.Logger, step plan.Step) (string, error) {
	switch s := step.(type) {
	case plan.RepayDebt:
		if err := positive(s.Amount); err != nil {
			return "", err
		}
		return placeholderTx(txRepay), e.wait(ctx, protocolStepUnits)
	case plan.WithdrawCollateral:
		if err := positive(s.Amount); err != nil {
			return "", err
		}
		return placeholderTx(txWithdraw), e.wait(ctx, protocolStepUnits)
	case plan.Swap:
		if err := positive(s.Amount); err != nil {
			return "", err
		}
		return placeholderTx(txSwap), e.wait(ctx, swapUnits)
	case plan.Bridge:
		if err := positive(s.Amount); err != nil {
			return "", err
		}
		for pct := bridgeProgressStep; pct <= 100; pct += bridgeProgressStep {
			if err := e.wait(ctx, bridgeUnits/(100/bridgeProgressStep)); err != nil {
				return "", err
			}
			log.Info("bridge progress", zap.String("protocol", s.Protocol), zap.Int("percent", pct))
		}
		return placeholderTx(txBridge), nil
	case plan.FusionCrossChain:
		if err := positive(s.Amount); err != nil {
			return "", err
		}
		if s.QuoteID != "" {
			for i := 1; i <= fusionUpdates; i++ {
				if err := e.wait(ctx, fusionUnits/fusionUpdates); err != nil {
					return "", err
				}
				log.Info("fusion auction progress", zap.String("quote_id", s.QuoteID), zap.Int("percent", i*100/fusionUpdates))
			}
		}
		return txFusion, nil
	case plan.SupplyCollateral:
		if err := positive(s.Amount); err != nil {
			return "", err
		}
		return placeholderTx(txSupply), e.wait(ctx, protocolStepUnits)
	default:
		log.Warn("unknown step skipped", zap.String("kind", string(step.Kind())))
		return "", nil
	}
}

func (e *Executor) wait(ctx context.Context, units int) error {
	return e.waiter.Wait(ctx, time.Duration(units)*e.unit)
}

func positive(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("invalid amount %.6f", amount)
	}
	return nil
}

func (e *Executor) journal(ctx context.Context, log *zap.Logger, res domain.Result) {
	if e.store == nil {
		return
	}
	if err := state.SaveExecutionRecord(ctx, e.store, state.RecordFromResult(res)); err != nil {
		log.Warn("failed to journal result", zap.Error(err))
	}
}

// Reset returns a position to idle so a later plan can run.
func (e *Executor) Reset(positionID string) State {
	return e.machine(positionID).Apply(EventReset)
}

func (e *Executor) State(positionID string) State {
	e.mu.Lock()
	sm, ok := e.machines[positionID]
	e.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return sm.Current()
}

type PositionState struct {
	PositionID string
	State      State
}

// States returns a snapshot of every tracked position, ordered by id.
func (e *Executor) States() []PositionState {
	e.mu.Lock()
	out := make([]PositionState, 0, len(e.machines))
	for id, sm := range e.machines {
		out = append(out, PositionState{PositionID: id, State: sm.Current()})
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}
