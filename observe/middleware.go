package observe

import (
	"context"
	"time"
)

// CallFunc is the unit the middleware wraps: one provider call, identified
// by its CallMeta.
type CallFunc func(ctx context.Context, meta CallMeta) (any, error)

// Middleware instruments provider calls with a span, call metrics, and a
// structured log line per call.
//
// Contract:
//   - Concurrency: Wrap returns a CallFunc safe for concurrent use.
//   - Context: the span-carrying context is what reaches the wrapped call.
//   - Errors: errors from the wrapped call are recorded and returned
//     unchanged.
//   - Ownership: results pass through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware assembles a Middleware from its three components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap returns fn instrumented with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn CallFunc) CallFunc {
	return func(ctx context.Context, meta CallMeta) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		result, err := fn(ctx, meta)

		elapsed := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordCall(ctx, meta, elapsed, err)
		m.logCall(ctx, meta, elapsed, err)

		return result, err
	}
}

func (m *Middleware) logCall(ctx context.Context, meta CallMeta, elapsed time.Duration, err error) {
	logger := m.logger.WithCall(meta)
	fields := []Field{{Key: "duration_ms", Value: float64(elapsed.Milliseconds())}}

	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err.Error()})
		logger.Error(ctx, "provider call failed", fields...)
		return
	}
	logger.Info(ctx, "provider call completed", fields...)
}

// NopMiddleware returns a Middleware whose tracer and metrics are no-ops
// and whose logging is discarded. Useful as a default when callers opt
// out of telemetry.
func NopMiddleware() *Middleware {
	return NewMiddleware(newNoopTracer(), noopMetrics{}, NopLogger())
}

// MiddlewareFromObserver builds a Middleware on the observer's tracer,
// meter, and logger.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(newTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
