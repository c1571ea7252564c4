package weatherlog

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Wait suspends the calling goroutine for d without holding any bus resources.
// It returns early with the context error if ctx is done first.
func Wait(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
