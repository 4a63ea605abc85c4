package app

import (
	"context"
	"time"

	"liqx-bot/internal/domain"
	"liqx-bot/internal/plan"

	"go.uber.org/zap"
)

const askTimeout = 2 * time.Second

type monitorMsg interface{ toMonitor() }
type scorerMsg interface{ toScorer() }
type executorMsg interface{ toExecutor() }

type resultMsg struct{ result domain.Result }
type digestMsg struct{}
type pruneMsg struct{}
type alertMsg struct{ alert domain.Alert }
type planMsg struct{ plan plan.Plan }

// resetMsg clears one position's guard in whichever actor receives it.
type resetMsg struct{ positionID string }

type monitorStatus struct {
	Tracked int
	Alerted int
}

type monitorStatusMsg struct{ reply chan monitorStatus }
type scorerStatusMsg struct{ reply chan int }

func (resultMsg) toMonitor()        {}
func (digestMsg) toMonitor()        {}
func (pruneMsg) toMonitor()         {}
func (resetMsg) toMonitor()         {}
func (monitorStatusMsg) toMonitor() {}
func (alertMsg) toScorer()          {}
func (resetMsg) toScorer()          {}
func (scorerStatusMsg) toScorer()   {}
func (planMsg) toExecutor()         {}
func (resetMsg) toExecutor()        {}

// send never blocks. A full mailbox drops the message.
func send[T any](a *App, name string, box chan T, msg T) bool {
	select {
	case box <- msg:
		return true
	default:
		a.metrics.MailboxDrops.Inc()
		a.log.Warn("mailbox full, message dropped", zap.String("mailbox", name))
		return false
	}
}

func (a *App) runScorer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.scorerBox:
			a.handleScorer(ctx, msg)
		}
	}
}

func (a *App) handleScorer(ctx context.Context, msg scorerMsg) {
	switch m := msg.(type) {
	case alertMsg:
		a.handleAlert(ctx, m.alert)
	case resetMsg:
		delete(a.processed, m.positionID)
	case scorerStatusMsg:
		m.reply <- len(a.processed)
	}
}

func (a *App) runPlanner(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-a.plannerBox:
			a.handleInstruction(ctx, in)
		}
	}
}

func (a *App) runExecutor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.executorBox:
			switch m := msg.(type) {
			case planMsg:
				a.handlePlan(ctx, m.plan)
			case resetMsg:
				state := a.executor.Reset(m.positionID)
				a.log.Info("executor state reset", zap.String("position_id", m.positionID), zap.String("state", string(state)))
			}
		}
	}
}

// askMonitor and askScorer read actor-owned state from other goroutines.
// ok is false when the actor did not answer in time.
func (a *App) askMonitor(ctx context.Context) (monitorStatus, bool) {
	reply := make(chan monitorStatus, 1)
	if !send[monitorMsg](a, "monitor", a.monitorBox, monitorStatusMsg{reply: reply}) {
		return monitorStatus{}, false
	}
	select {
	case st := <-reply:
		return st, true
	case <-ctx.Done():
	case <-time.After(askTimeout):
	}
	return monitorStatus{}, false
}

func (a *App) askScorer(ctx context.Context) (int, bool) {
	reply := make(chan int, 1)
	if !send[scorerMsg](a, "scorer", a.scorerBox, scorerStatusMsg{reply: reply}) {
		return 0, false
	}
	select {
	case n := <-reply:
		return n, true
	case <-ctx.Done():
	case <-time.After(askTimeout):
	}
	return 0, false
}
