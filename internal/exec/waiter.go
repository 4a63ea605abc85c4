package exec

import (
	"context"
	"time"
)

// Waiter stands in for settlement confirmation between steps.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

type timeWaiter struct{}

func (timeWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func RealWaiter() Waiter { return timeWaiter{} }
