package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// startSchedule registers the digest and prune jobs. Jobs only post to the
// monitor mailbox so monitor state stays on its own goroutine.
func (a *App) startSchedule(ctx context.Context, g *errgroup.Group) error {
	c := cron.New()
	jobs := 0
	if spec := strings.TrimSpace(a.cfg.Schedule.Digest); spec != "" {
		if _, err := c.AddFunc(spec, func() { send[monitorMsg](a, "monitor", a.monitorBox, digestMsg{}) }); err != nil {
			return fmt.Errorf("schedule.digest: %w", err)
		}
		jobs++
	}
	if spec := strings.TrimSpace(a.cfg.Schedule.Prune); spec != "" {
		if _, err := c.AddFunc(spec, func() { send[monitorMsg](a, "monitor", a.monitorBox, pruneMsg{}) }); err != nil {
			return fmt.Errorf("schedule.prune: %w", err)
		}
		jobs++
	}
	if jobs == 0 {
		return nil
	}
	c.Start()
	a.log.Info("scheduler started", zap.Int("jobs", jobs))
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})
	return nil
}
