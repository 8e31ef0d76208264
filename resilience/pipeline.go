package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/visionops/clock"
	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/observe"
)

// Pipeline composes the guards around a provider call: circuit breaker
// admission, rate limiter admission, then the call itself under the
// retryer with bulkhead and timeout around each attempt.
type Pipeline struct {
	breaker   *Breaker
	limiter   *Limiter
	retryer   *Retryer
	bulkhead  *Bulkhead
	timeout   *Timeout
	failFast  bool
	logger    observe.Logger
	collector *observe.Collector
	clock     clock.Clock
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// NewPipeline creates a pipeline. Guards left unconfigured are skipped.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		logger: observe.NopLogger(),
		clock:  clock.System(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithBreaker adds circuit breaker admission.
func WithBreaker(b *Breaker) PipelineOption {
	return func(p *Pipeline) { p.breaker = b }
}

// WithLimiter adds rate limiter admission.
func WithLimiter(l *Limiter) PipelineOption {
	return func(p *Pipeline) { p.limiter = l }
}

// WithRetryer retries failed attempts.
func WithRetryer(r *Retryer) PipelineOption {
	return func(p *Pipeline) { p.retryer = r }
}

// WithBulkhead caps concurrent attempts.
func WithBulkhead(b *Bulkhead) PipelineOption {
	return func(p *Pipeline) { p.bulkhead = b }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = NewTimeout(TimeoutConfig{Timeout: d}) }
}

// WithFailFast rejects rate-limited calls immediately instead of
// waiting for a token.
func WithFailFast() PipelineOption {
	return func(p *Pipeline) { p.failFast = true }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger observe.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCollector records pipeline metrics.
func WithCollector(c *observe.Collector) PipelineOption {
	return func(p *Pipeline) { p.collector = c }
}

// WithClock sets the time source used for response time measurement.
func WithClock(c clock.Clock) PipelineOption {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// Breaker returns the configured circuit breaker, if any.
func (p *Pipeline) Breaker() *Breaker {
	return p.breaker
}

// Limiter returns the configured rate limiter, if any.
func (p *Pipeline) Limiter() *Limiter {
	return p.limiter
}

// Do runs op through the configured guards in order:
//
//  1. Circuit breaker admission. An open circuit fails fast with
//     ErrCircuitOpen before any token is spent.
//  2. Rate limiter admission. The pipeline waits for a token, or with
//     fail-fast rejects immediately with ErrRateLimited or
//     ErrQuotaExhausted.
//  3. The call itself, under the retryer, each attempt holding a
//     bulkhead slot and bounded by the per-attempt timeout.
//
// Every attempt's outcome feeds back into the guards: failures that
// should trip the breaker are recorded with their response time,
// rate limit signals open a penalty window on the limiter, and
// successes are recorded so a half-open circuit can close.
func (p *Pipeline) Do(ctx context.Context, op func(context.Context) error) error {
	start := p.clock.Now()
	p.count("pipeline.calls")

	if p.breaker != nil {
		decision := p.breaker.CanExecute()
		if !decision.Allowed {
			p.count("pipeline.rejected.circuit")
			p.logger.Debug(ctx, "call rejected by circuit breaker",
				observe.Field{Key: "state", Value: decision.State.String()},
				observe.Field{Key: "wait", Value: decision.WaitTime.String()})
			return fmt.Errorf("%w, retry in %s", ErrCircuitOpen, decision.WaitTime.Round(time.Millisecond))
		}
	}

	if p.limiter != nil {
		if err := p.admit(ctx); err != nil {
			p.count("pipeline.rejected.ratelimit")
			return err
		}
	}

	err := p.invoke(ctx, op)
	p.observeDuration(start)
	if err != nil {
		p.count("pipeline.failures")
	}
	return err
}

// admit blocks until the limiter allows the call, or rejects it
// immediately when fail-fast is enabled.
func (p *Pipeline) admit(ctx context.Context) error {
	if !p.failFast {
		return p.limiter.Wait(ctx)
	}

	verdict := p.limiter.Check()
	if verdict.Allowed {
		return nil
	}
	if verdict.Reason == ReasonQuota {
		return fmt.Errorf("%w, resets in %s", ErrQuotaExhausted, verdict.WaitTime.Round(time.Second))
	}
	return fmt.Errorf("%w: %s, retry in %s", ErrRateLimited, verdict.Reason, verdict.WaitTime.Round(time.Millisecond))
}

func (p *Pipeline) invoke(ctx context.Context, op func(context.Context) error) error {
	attempt := p.instrument(op)
	if p.retryer != nil {
		_, err := p.retryer.Do(ctx, attempt)
		return err
	}
	return attempt(ctx)
}

// instrument wraps op with the bulkhead and timeout, and feeds each
// attempt's outcome back into the breaker and limiter.
func (p *Pipeline) instrument(op func(context.Context) error) func(context.Context) error {
	run := op
	if p.timeout != nil {
		inner := run
		run = func(ctx context.Context) error {
			return p.timeout.Execute(ctx, inner)
		}
	}
	if p.bulkhead != nil {
		inner := run
		run = func(ctx context.Context) error {
			return p.bulkhead.Execute(ctx, inner)
		}
	}

	return func(ctx context.Context) error {
		attemptStart := p.clock.Now()
		err := run(ctx)
		responseTime := p.clock.Now().Sub(attemptStart)

		if err == nil {
			if p.breaker != nil {
				p.breaker.RecordSuccess(responseTime)
			}
			return nil
		}

		analysis := fault.Analyze(err)
		if p.breaker != nil && analysis.TripBreaker {
			p.breaker.RecordFailure(err, responseTime)
		}
		if p.limiter != nil && analysis.ApplyBackoff {
			p.limiter.ApplyPenalty(analysis.RetryAfter)
		}
		return err
	}
}

func (p *Pipeline) count(name string) {
	if p.collector != nil {
		p.collector.Inc(name, 1)
	}
}

func (p *Pipeline) observeDuration(start time.Time) {
	if p.collector != nil {
		elapsed := p.clock.Now().Sub(start)
		p.collector.Observe("pipeline.duration_ms", float64(elapsed.Milliseconds()))
	}
}
