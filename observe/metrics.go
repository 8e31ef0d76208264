package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics records the outcome of provider calls.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; recording never blocks the call path.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records one completed call with its duration and outcome.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error)
}

// callMetrics emits the three call instruments. Every call increments the
// total counter and records a latency sample; only failures touch the
// error counter.
type callMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*callMetrics, error) {
	var (
		m   callMetrics
		err error
	)

	m.calls, err = meter.Int64Counter("vision.call.total",
		metric.WithDescription("Total number of provider calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	m.failures, err = meter.Int64Counter("vision.call.errors",
		metric.WithDescription("Total number of provider call errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	m.latency, err = meter.Float64Histogram("vision.call.duration_ms",
		metric.WithDescription("Provider call duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *callMetrics) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attrs()...)

	m.calls.Add(ctx, 1, opt)
	if err != nil {
		m.failures.Add(ctx, 1, opt)
	}
	m.latency.Record(ctx, float64(duration.Milliseconds()), opt)
}

type noopMetrics struct{}

func (noopMetrics) RecordCall(context.Context, CallMeta, time.Duration, error) {}
