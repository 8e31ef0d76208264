// Package clock provides an injectable time source for components that
// compute delays, refill tokens, or schedule periodic work.
//
// Production code uses System(). Tests use Fake to advance time manually,
// so backoff and refill math can be asserted without real waits.
package clock

import (
	"context"
	"time"
)

// Clock is the time source used wherever delays are computed or scheduled.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Sleep must return ctx.Err() if the context ends before the duration.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error

	// NewTicker returns a ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on a channel until stopped.
type Ticker interface {
	// Chan returns the tick channel.
	Chan() <-chan time.Time

	// Stop shuts down the ticker. No ticks are delivered after Stop.
	Stop()
}

// System returns the wall-clock implementation backed by the time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{ticker: time.NewTicker(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) Chan() <-chan time.Time {
	return t.ticker.C
}

func (t *systemTicker) Stop() {
	t.ticker.Stop()
}

// Ensure implementations satisfy the interfaces.
var (
	_ Clock  = systemClock{}
	_ Ticker = (*systemTicker)(nil)
)
