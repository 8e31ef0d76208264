package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig configures the per-attempt deadline.
type TimeoutConfig struct {
	// Timeout is the maximum duration for a single provider call.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout bounds individual provider calls. The call runs in its own
// goroutine with a derived deadline context; on expiry the caller gets
// ErrTimeout while the call itself is abandoned, not aborted, so the
// operation must honor its context to stop doing work.
type Timeout struct {
	cfg TimeoutConfig
}

// NewTimeout creates a timeout wrapper.
func NewTimeout(cfg TimeoutConfig) *Timeout {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Timeout{cfg: cfg}
}

// Execute runs op under the configured deadline.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	// Buffered so the abandoned goroutine can finish and exit.
	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Duration returns the configured deadline.
func (t *Timeout) Duration() time.Duration {
	return t.cfg.Timeout
}

// ExecuteWithTimeout runs op under a one-off deadline.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	t := NewTimeout(TimeoutConfig{Timeout: timeout})
	return t.Execute(ctx, op)
}
