package engine

import (
	"context"
	"time"

	"dailytrader/internal/broker"
)

type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx ends.
	Sleep(ctx context.Context, d time.Duration) error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return broker.WaitForContext(ctx, d)
}

func sleepUntil(ctx context.Context, clock Clock, t time.Time) error {
	return clock.Sleep(ctx, t.Sub(clock.Now()))
}
