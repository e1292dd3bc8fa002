package timer

import (
	"context"
	"time"
)

// Waiter blocks for d or until ctx is done. Hardware pulse phases and sensor
// sample pauses go through a Waiter so tests and event-driven hosts can
// replace the real delay.
type Waiter func(ctx context.Context, d time.Duration) error

// Sleep is the real Waiter.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoWait returns immediately unless ctx is already done.
func NoWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
