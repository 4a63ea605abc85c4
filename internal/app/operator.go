package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"liqx-bot/internal/alerts"
	"liqx-bot/internal/state"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

// operatorAuth limits commands to one chat and, when users is non-empty, to
// an allowlist of telegram user ids.
type operatorAuth struct {
	chatID int64
	users  map[int64]struct{}
}

func (o operatorAuth) allows(msg *alerts.Message) bool {
	if msg == nil || msg.Chat == nil || msg.From == nil || msg.Chat.ID != o.chatID {
		return false
	}
	if len(o.users) == 0 {
		return true
	}
	_, ok := o.users[msg.From.ID]
	return ok
}

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
	PositionID   string    `json:"position_id,omitempty"`
	StateBefore  string    `json:"state_before,omitempty"`
}

type operatorHandler func(ctx context.Context, args []string, meta operatorMeta) (string, error)

func (a *App) startOperator(ctx context.Context, g *errgroup.Group) {
	if a.alerts == nil || !a.cfg.Telegram.Enabled || !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	auth := operatorAuth{chatID: chatID, users: make(map[int64]struct{})}
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		auth.users[id] = struct{}{}
	}
	wait := a.cfg.Telegram.OperatorPollInterval
	if wait <= 0 {
		wait = 3 * time.Second
	}
	g.Go(func() error {
		a.pollOperator(ctx, auth, wait)
		return nil
	})
}

// pollOperator long-polls for commands until ctx ends. The offset is stored
// after every update so a restart never replays a command. An empty answer
// that returns before the long-poll window still costs a full wait.
func (a *App) pollOperator(ctx context.Context, auth operatorAuth, wait time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for ctx.Err() == nil {
		started := time.Now()
		updates, err := a.alerts.GetUpdates(ctx, offset, wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !a.operatorWarned {
				a.operatorWarned = true
				a.log.Warn("telegram operator poll failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		if a.operatorWarned {
			a.operatorWarned = false
			a.log.Info("telegram operator recovered")
		}
		if len(updates) == 0 {
			if rest := wait - time.Since(started); rest > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(rest):
				}
			}
			continue
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, auth)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, auth operatorAuth) {
	msg := upd.Message
	if !auth.allows(msg) {
		return
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	reply, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		reply = fmt.Sprintf("command failed: %v", err)
	}
	if reply != "" {
		a.notify(ctx, reply)
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /status@botname.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	handlers := map[string]operatorHandler{
		"status": func(ctx context.Context, args []string, _ operatorMeta) (string, error) {
			if len(args) == 1 {
				return a.positionStatus(ctx, args[0])
			}
			return a.operatorStatus(ctx), nil
		},
		"pause": func(ctx context.Context, _ []string, meta operatorMeta) (string, error) {
			return a.togglePause(ctx, meta, true), nil
		},
		"resume": func(ctx context.Context, _ []string, meta operatorMeta) (string, error) {
			return a.togglePause(ctx, meta, false), nil
		},
		"reset": a.resetPosition,
	}
	handler, ok := handlers[cmd]
	if !ok {
		return operatorHelpText(), nil
	}
	return handler(ctx, args, meta)
}

func (a *App) togglePause(ctx context.Context, meta operatorMeta, pause bool) string {
	before := a.isPaused()
	after := a.setPaused(pause)
	action := "resume"
	if pause {
		action = "pause"
	}
	a.auditOperatorEvent(ctx, a.auditEvent(meta, action, before, after))
	switch {
	case pause && before:
		return "monitoring already paused"
	case pause:
		return "monitoring paused"
	case !before:
		return "monitoring already active"
	default:
		return "monitoring resumed"
	}
}

// resetPosition clears the cooldown, the processed flag and the executor
// state for one position. Each piece is owned by a different actor, so the
// reset travels as a message to all three.
func (a *App) resetPosition(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) != 1 {
		return "", errors.New("usage: /reset <position_id>")
	}
	positionID := args[0]
	stateBefore := a.executor.State(positionID)
	reset := resetMsg{positionID: positionID}
	delivered := send[monitorMsg](a, "monitor", a.monitorBox, reset)
	delivered = send[scorerMsg](a, "scorer", a.scorerBox, reset) && delivered
	delivered = send[executorMsg](a, "executor", a.executorBox, reset) && delivered

	paused := a.isPaused()
	event := a.auditEvent(meta, "reset", paused, paused)
	event.PositionID = positionID
	event.StateBefore = string(stateBefore)
	a.auditOperatorEvent(ctx, event)
	if !delivered {
		return "", fmt.Errorf("reset of %s only partly delivered, retry", positionID)
	}
	return fmt.Sprintf("position %s reset (was %s)", positionID, stateBefore), nil
}

func (a *App) auditEvent(meta operatorMeta, action string, pausedBefore, pausedAfter bool) operatorAuditEvent {
	return operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         a.now(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: pausedBefore,
		PausedAfter:  pausedAfter,
	}
}

func (a *App) operatorStatus(ctx context.Context) string {
	tracked, alerted, processed := "n/a", "n/a", "n/a"
	if st, ok := a.askMonitor(ctx); ok {
		tracked = strconv.Itoa(st.Tracked)
		alerted = strconv.Itoa(st.Alerted)
	}
	if n, ok := a.askScorer(ctx); ok {
		processed = strconv.Itoa(n)
	}
	lines := []string{
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("tracked: %s", tracked),
		fmt.Sprintf("cooling_down: %s", alerted),
		fmt.Sprintf("processed: %s", processed),
	}
	states := a.executor.States()
	if len(states) == 0 {
		lines = append(lines, "executor: idle")
	}
	for _, st := range states {
		lines = append(lines, fmt.Sprintf("executor %s: %s", st.PositionID, st.State))
	}
	return strings.Join(lines, "\n")
}

// positionStatus reports the executor state and the last journaled result for
// one position.
func (a *App) positionStatus(ctx context.Context, positionID string) (string, error) {
	lines := []string{fmt.Sprintf("position %s: %s", positionID, a.executor.State(positionID))}
	record, ok, err := state.LoadExecutionRecord(ctx, a.store, positionID)
	if err != nil {
		return "", fmt.Errorf("load result for %s: %w", positionID, err)
	}
	if !ok {
		return strings.Join(append(lines, "last result: none"), "\n"), nil
	}
	outcome := "failed"
	if record.Success {
		outcome = "succeeded"
	}
	lines = append(lines,
		fmt.Sprintf("last result: %s at %s", outcome, record.Time().Format(time.RFC3339)),
		fmt.Sprintf("plan %s, %d tx, gas $%.2f", record.PlanID, len(record.TxIDs), record.ActualGasUSD),
	)
	if record.Message != "" {
		lines = append(lines, record.Message)
	}
	return strings.Join(lines, "\n"), nil
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - pipeline status",
		"/status <position_id> - executor state and last result for one position",
		"/pause - pause position monitoring",
		"/resume - resume position monitoring",
		"/reset <position_id> - clear cooldown, processed flag and executor state",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("operator offset save failed", zap.Error(err))
	}
}

// Audit keys sort by time; the update id keeps same-instant commands apart.
func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", event.Time.UnixNano(), event.UpdateID)
	if err := a.store.Set(ctx, key, string(payload)); err != nil {
		a.log.Warn("operator audit failed", zap.String("action", event.Action), zap.Error(err))
	}
}
