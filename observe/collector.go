package observe

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/visionops/clock"
)

// maxHistogramSamples bounds the per-histogram sample window. Older samples
// are dropped once the window is full.
const maxHistogramSamples = 500

// MetricType identifies the kind of a recorded metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// MetricEntry is the last-write record of a named metric, regardless of kind.
type MetricEntry struct {
	Value     float64    `json:"value"`
	Type      MetricType `json:"type"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// HistogramSummary holds aggregate statistics over a histogram's sample window.
type HistogramSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Snapshot is a point-in-time JSON-marshalable view of all recorded metrics.
type Snapshot struct {
	Timestamp  time.Time                   `json:"timestamp"`
	StartTime  time.Time                   `json:"startTime"`
	Metrics    map[string]MetricEntry      `json:"metrics"`
	Counters   map[string]int64            `json:"counters"`
	Gauges     map[string]float64          `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// histogram is a fixed-capacity sample window.
type histogram struct {
	samples []float64
	next    int
	size    int
}

func (h *histogram) observe(v float64) {
	if h.samples == nil {
		h.samples = make([]float64, maxHistogramSamples)
	}
	h.samples[h.next] = v
	h.next = (h.next + 1) % maxHistogramSamples
	if h.size < maxHistogramSamples {
		h.size++
	}
}

// window returns a copy of the live samples in no particular order.
func (h *histogram) window() []float64 {
	out := make([]float64, h.size)
	copy(out, h.samples[:h.size])
	return out
}

// Collector accumulates counters, gauges and histograms in memory.
// It is the decision-support sink for the resilience and health packages
// and the source of the exportable metrics snapshot.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: recording methods never fail; OTel forwarding is best-effort.
type Collector struct {
	mu         sync.Mutex
	clock      clock.Clock
	startTime  time.Time
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string]*histogram
	entries    map[string]MetricEntry

	meter      metric.Meter
	otelCtrs   map[string]metric.Int64Counter
	otelGauges map[string]metric.Float64Gauge
	otelHists  map[string]metric.Float64Histogram
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithMeter forwards every recorded value to the given OTel meter in
// addition to in-memory accumulation.
func WithMeter(m metric.Meter) CollectorOption {
	return func(c *Collector) {
		c.meter = m
	}
}

// WithCollectorClock sets the time source. Defaults to the system clock.
func WithCollectorClock(clk clock.Clock) CollectorOption {
	return func(c *Collector) {
		c.clock = clk
	}
}

// NewCollector creates an empty Collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		clock:      clock.System(),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
		entries:    make(map[string]MetricEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.clock.Now()
	if c.meter != nil {
		c.otelCtrs = make(map[string]metric.Int64Counter)
		c.otelGauges = make(map[string]metric.Float64Gauge)
		c.otelHists = make(map[string]metric.Float64Histogram)
	}
	return c
}

// Inc adds delta to the named counter.
func (c *Collector) Inc(name string, delta int64) {
	c.mu.Lock()
	c.counters[name] += delta
	total := c.counters[name]
	c.entries[name] = MetricEntry{Value: float64(total), Type: TypeCounter, UpdatedAt: c.clock.Now()}
	fwd := c.otelCounterLocked(name)
	c.mu.Unlock()

	if fwd != nil {
		fwd.Add(context.Background(), delta)
	}
}

// SetGauge sets the named gauge to value.
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.Lock()
	c.gauges[name] = value
	c.entries[name] = MetricEntry{Value: value, Type: TypeGauge, UpdatedAt: c.clock.Now()}
	fwd := c.otelGaugeLocked(name)
	c.mu.Unlock()

	if fwd != nil {
		fwd.Record(context.Background(), value)
	}
}

// Observe appends value to the named histogram's sample window.
func (c *Collector) Observe(name string, value float64) {
	c.mu.Lock()
	h, ok := c.histograms[name]
	if !ok {
		h = &histogram{}
		c.histograms[name] = h
	}
	h.observe(value)
	c.entries[name] = MetricEntry{Value: value, Type: TypeHistogram, UpdatedAt: c.clock.Now()}
	fwd := c.otelHistogramLocked(name)
	c.mu.Unlock()

	if fwd != nil {
		fwd.Record(context.Background(), value)
	}
}

// Counter returns the current value of the named counter.
func (c *Collector) Counter(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Gauge returns the current value of the named gauge.
func (c *Collector) Gauge(name string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.gauges[name]
	return v, ok
}

// Percentile returns the p-th percentile (0-100) of the named histogram's
// window using the nearest-rank method. Returns false when the histogram
// is empty or unknown.
func (c *Collector) Percentile(name string, p float64) (float64, bool) {
	c.mu.Lock()
	h, ok := c.histograms[name]
	if !ok || h.size == 0 {
		c.mu.Unlock()
		return 0, false
	}
	window := h.window()
	c.mu.Unlock()

	sort.Float64s(window)
	return percentileOf(window, p), true
}

// Summary returns aggregate statistics for the named histogram.
// Returns false when the histogram is empty or unknown.
func (c *Collector) Summary(name string) (HistogramSummary, bool) {
	c.mu.Lock()
	h, ok := c.histograms[name]
	if !ok || h.size == 0 {
		c.mu.Unlock()
		return HistogramSummary{}, false
	}
	window := h.window()
	c.mu.Unlock()

	return summarize(window), true
}

// Snapshot returns a point-in-time copy of all recorded metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Timestamp:  c.clock.Now(),
		StartTime:  c.startTime,
		Metrics:    make(map[string]MetricEntry, len(c.entries)),
		Counters:   make(map[string]int64, len(c.counters)),
		Gauges:     make(map[string]float64, len(c.gauges)),
		Histograms: make(map[string]HistogramSummary, len(c.histograms)),
	}

	for k, v := range c.entries {
		snap.Metrics[k] = v
	}
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	for k, v := range c.gauges {
		snap.Gauges[k] = v
	}
	for k, h := range c.histograms {
		if h.size == 0 {
			continue
		}
		snap.Histograms[k] = summarize(h.window())
	}

	return snap
}

// Reset clears all recorded metrics and restarts the collection window.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]int64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string]*histogram)
	c.entries = make(map[string]MetricEntry)
	c.startTime = c.clock.Now()
}

func (c *Collector) otelCounterLocked(name string) metric.Int64Counter {
	if c.meter == nil {
		return nil
	}
	if ctr, ok := c.otelCtrs[name]; ok {
		return ctr
	}
	ctr, err := c.meter.Int64Counter(name)
	if err != nil {
		return nil
	}
	c.otelCtrs[name] = ctr
	return ctr
}

func (c *Collector) otelGaugeLocked(name string) metric.Float64Gauge {
	if c.meter == nil {
		return nil
	}
	if g, ok := c.otelGauges[name]; ok {
		return g
	}
	g, err := c.meter.Float64Gauge(name)
	if err != nil {
		return nil
	}
	c.otelGauges[name] = g
	return g
}

func (c *Collector) otelHistogramLocked(name string) metric.Float64Histogram {
	if c.meter == nil {
		return nil
	}
	if h, ok := c.otelHists[name]; ok {
		return h
	}
	h, err := c.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	c.otelHists[name] = h
	return h
}

// summarize computes aggregate statistics over samples. Sorts in place.
func summarize(samples []float64) HistogramSummary {
	sort.Float64s(samples)

	sum := 0.0
	for _, v := range samples {
		sum += v
	}

	return HistogramSummary{
		Count: len(samples),
		Min:   samples[0],
		Max:   samples[len(samples)-1],
		Mean:  sum / float64(len(samples)),
		P50:   percentileOf(samples, 50),
		P95:   percentileOf(samples, 95),
		P99:   percentileOf(samples, 99),
	}
}

// percentileOf returns the p-th percentile of sorted samples using the
// nearest-rank method.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
