package timescale

import (
	"context"
	"testing"
	"time"

	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"

	"go.uber.org/zap"
)

func TestNewDisabled(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, zap.NewNop())
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v (%v)", w, err)
	}
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "public", 1, zap.NewNop())
	w.EnqueueSnapshot(RiskSnapshot{PositionID: "p1"})
	w.EnqueueSnapshot(RiskSnapshot{PositionID: "p2"})
	w.EnqueueAlert(domain.Alert{ID: "a1"})
	w.EnqueueResult(domain.Result{PositionID: "p1"})
	w.EnqueueResult(domain.Result{PositionID: "p2"})
	w.EnqueueResult(domain.Result{PositionID: "p3"})
	snaps, alerts, results := w.Dropped()
	if snaps != 1 || alerts != 0 || results != 2 {
		t.Fatalf("unexpected drop counts %d/%d/%d", snaps, alerts, results)
	}
}

func TestRunDrainsQueues(t *testing.T) {
	w := newWriter(nil, "public", 4, zap.NewNop())
	w.EnqueueSnapshot(RiskSnapshot{PositionID: "p1"})
	w.EnqueueAlert(domain.Alert{ID: "a1"})
	w.EnqueueResult(domain.Result{PositionID: "p1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(time.Second)
	for len(w.snapshots)+len(w.alerts)+len(w.results) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queues not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop on cancel")
	}
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *Writer
	w.EnqueueSnapshot(RiskSnapshot{})
	w.EnqueueAlert(domain.Alert{})
	w.EnqueueResult(domain.Result{})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
