package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/visionops/clock"
	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/observe"
)

// MonitorConfig configures the provider health monitor.
type MonitorConfig struct {
	// CheckInterval is how often background monitoring probes each
	// provider.
	// Default: 60 seconds
	CheckInterval time.Duration

	// CacheDuration is how long an on-demand check result stays valid.
	// A check within this window returns the prior result without
	// probing.
	// Default: 30 seconds
	CacheDuration time.Duration

	// Timeout bounds each probe. A probe that has not resolved in time
	// is abandoned and the check fails with ErrProbeTimeout.
	// Default: 10 seconds
	Timeout time.Duration

	// DegradedResponseTime is the average response time above which a
	// provider is considered degraded.
	// Default: 10 seconds
	DegradedResponseTime time.Duration

	// DegradedWindow is how many recent results the degraded average
	// covers, counting the check in flight.
	// Default: 5
	DegradedWindow int

	// Clock is the time source.
	// Default: clock.System()
	Clock clock.Clock

	// Logger receives monitoring events.
	// Default: observe.NopLogger()
	Logger observe.Logger

	// Collector records check metrics when set.
	Collector *observe.Collector
}

type cachedResult struct {
	result  Result
	expires time.Time
}

// Monitor tracks the health of registered vision providers. On-demand
// checks are cached and coalesced; background monitoring runs one ticker
// per provider.
type Monitor struct {
	cfg       MonitorConfig
	clock     clock.Clock
	logger    observe.Logger
	collector *observe.Collector

	sf singleflight.Group // coalesces concurrent checks per provider

	mu        sync.RWMutex
	providers map[string]Prober
	order     []string
	histories map[string]*History
	cached    map[string]cachedResult
	watchers  map[string]chan struct{}
	running   bool
	wg        sync.WaitGroup
}

// NewMonitor creates a monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DegradedResponseTime <= 0 {
		cfg.DegradedResponseTime = 10 * time.Second
	}
	if cfg.DegradedWindow <= 0 {
		cfg.DegradedWindow = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	return &Monitor{
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		providers: make(map[string]Prober),
		histories: make(map[string]*History),
		cached:    make(map[string]cachedResult),
		watchers:  make(map[string]chan struct{}),
	}
}

// AddProvider registers a provider's probe. Registering an existing name
// replaces the probe but keeps the provider's history. If background
// monitoring is running, the provider gets its own ticker immediately.
func (m *Monitor) AddProvider(name string, prober Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[name]; !exists {
		m.order = append(m.order, name)
		m.histories[name] = NewHistory(defaultHistoryCapacity)
	}
	m.providers[name] = prober

	if m.running {
		if _, watching := m.watchers[name]; !watching {
			m.watchLocked(name)
		}
	}
}

// RemoveProvider unregisters a provider, discarding its history and
// stopping its background ticker.
func (m *Monitor) RemoveProvider(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[name]; !exists {
		return
	}
	delete(m.providers, name)
	delete(m.histories, name)
	delete(m.cached, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if stop, watching := m.watchers[name]; watching {
		delete(m.watchers, name)
		close(stop)
	}
}

// Providers returns registered provider names in registration order.
func (m *Monitor) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Check runs one health check for the named provider. A result newer
// than CacheDuration is returned as is, without probing. Concurrent
// checks for the same provider share a single probe.
func (m *Monitor) Check(ctx context.Context, name string) (Result, error) {
	m.mu.RLock()
	prober, ok := m.providers[name]
	m.mu.RUnlock()
	if !ok {
		return Result{}, ErrProviderNotFound
	}

	if result, ok := m.cachedResult(name); ok {
		m.count("health.cache_hits")
		return result, nil
	}

	v, _, _ := m.sf.Do(name, func() (any, error) {
		// A check that finished while we waited for the flight is as
		// good as ours would be.
		if result, ok := m.cachedResult(name); ok {
			m.count("health.cache_hits")
			return result, nil
		}
		return m.check(ctx, name, prober), nil
	})
	return v.(Result), nil
}

// CheckAll checks every registered provider in parallel.
func (m *Monitor) CheckAll(ctx context.Context) map[string]Result {
	names := m.Providers()
	results := make(map[string]Result, len(names))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			result, err := m.Check(ctx, name)
			if err != nil {
				// Removed while checks were in flight.
				return nil
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ProviderHealth returns the latest result for the named provider.
func (m *Monitor) ProviderHealth(name string) (Result, bool) {
	m.mu.RLock()
	hist, ok := m.histories[name]
	m.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	last := hist.Last(1)
	if len(last) == 0 {
		return Result{}, false
	}
	return last[0], true
}

// ProviderHistory returns the named provider's stored results in
// chronological order.
func (m *Monitor) ProviderHistory(name string) ([]Result, bool) {
	m.mu.RLock()
	hist, ok := m.histories[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return hist.All(), true
}

// ProviderPerformance returns the named provider's rolling performance.
func (m *Monitor) ProviderPerformance(name string) (Performance, bool) {
	m.mu.RLock()
	hist, ok := m.histories[name]
	m.mu.RUnlock()
	if !ok {
		return Performance{}, false
	}
	return hist.Performance(), true
}

// Healthy returns providers whose latest result is healthy, in
// registration order. Providers never checked are not included.
func (m *Monitor) Healthy() []string {
	return m.withLatestStatus(StatusHealthy)
}

// Unhealthy returns providers whose latest result is unhealthy, in
// registration order.
func (m *Monitor) Unhealthy() []string {
	return m.withLatestStatus(StatusUnhealthy)
}

// Overall reduces the latest results to one status: unhealthy if any
// provider is unhealthy, degraded if any is degraded, else healthy.
func (m *Monitor) Overall() Status {
	hasUnhealthy := false
	hasDegraded := false
	for _, name := range m.Providers() {
		result, ok := m.ProviderHealth(name)
		if !ok {
			continue
		}
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Start begins background monitoring: one ticker per registered provider
// at CheckInterval. Errors and panics inside scheduled checks are logged,
// never propagated.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	for _, name := range m.order {
		m.watchLocked(name)
	}
}

// Stop halts background monitoring and waits for in-flight scheduled
// checks to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	for name, stop := range m.watchers {
		close(stop)
		delete(m.watchers, name)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// watchLocked starts the named provider's ticker goroutine. The ticker
// is created here, not in the goroutine, so the schedule exists the
// moment Start or AddProvider returns. Must be called with the monitor's
// mutex held.
func (m *Monitor) watchLocked(name string) {
	stop := make(chan struct{})
	m.watchers[name] = stop
	ticker := m.clock.NewTicker(m.cfg.CheckInterval)
	m.wg.Add(1)
	go m.watch(name, ticker, stop)
}

func (m *Monitor) watch(name string, ticker clock.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.runScheduled(name)
		case <-stop:
			return
		}
	}
}

// runScheduled performs one background check. The scheduler must survive
// anything a probe does.
func (m *Monitor) runScheduled(name string) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(ctx, "scheduled health check panicked",
				observe.Field{Key: "provider", Value: name},
				observe.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()

	result, err := m.Check(ctx, name)
	if err != nil {
		// Provider was removed after its ticker fired.
		return
	}
	if result.Status == StatusUnhealthy {
		m.logger.Warn(ctx, "provider unhealthy",
			observe.Field{Key: "provider", Value: name},
			observe.Field{Key: "message", Value: result.Message})
	}
}

// check probes the provider, evaluates the outcome, and records it.
func (m *Monitor) check(ctx context.Context, name string, prober Prober) Result {
	start := m.clock.Now()
	err := m.probe(ctx, name, prober)
	responseTime := m.clock.Now().Sub(start)

	details := deriveDetails(err)
	status, message := m.evaluate(name, details, responseTime, err)

	result := Result{
		Status:       status,
		Provider:     name,
		Message:      message,
		ResponseTime: responseTime,
		Timestamp:    start,
		Details:      details,
		Err:          err,
	}
	m.record(name, result)
	return result
}

// probe races the prober against the configured timeout. A timed-out
// probe is abandoned, not aborted, so probers should honor ctx.
func (m *Monitor) probe(ctx context.Context, name string, prober Prober) error {
	done := make(chan error, 1) // Buffered so an abandoned probe can finish and exit.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("health: probe panicked: %v", r)
			}
		}()
		done <- prober.Probe(ctx)
	}()

	expired := make(chan error, 1)
	go func() { expired <- m.clock.Sleep(ctx, m.cfg.Timeout) }()

	select {
	case err := <-done:
		return err
	case sleepErr := <-expired:
		if sleepErr != nil {
			// ctx ended before the timeout elapsed.
			return sleepErr
		}
		return fault.Wrap(fault.KindTimeout, name, "health_check", ErrProbeTimeout)
	}
}

// evaluate applies the status rule: unhealthy when unreachable or the
// endpoint is down, degraded when unauthenticated or recent checks
// average too slow, else healthy.
func (m *Monitor) evaluate(name string, details Details, responseTime time.Duration, err error) (Status, string) {
	if !details.Connected || !details.EndpointAvailable {
		return StatusUnhealthy, errMessage(err)
	}
	if !details.Authenticated {
		return StatusDegraded, errMessage(err)
	}
	if avg := m.recentAverage(name, responseTime); avg > m.cfg.DegradedResponseTime {
		return StatusDegraded, fmt.Sprintf("average response time %s exceeds %s",
			avg.Round(time.Millisecond), m.cfg.DegradedResponseTime)
	}
	return StatusHealthy, "ok"
}

// recentAverage is the mean response time over the window ending at the
// check in flight: the last DegradedWindow-1 stored results plus this one.
func (m *Monitor) recentAverage(name string, current time.Duration) time.Duration {
	m.mu.RLock()
	hist := m.histories[name]
	m.mu.RUnlock()
	if hist == nil {
		return current
	}

	prior := hist.Last(m.cfg.DegradedWindow - 1)
	total := current
	for _, r := range prior {
		total += r.ResponseTime
	}
	return total / time.Duration(len(prior)+1)
}

// record stores the result in the cache and history and emits metrics.
func (m *Monitor) record(name string, result Result) {
	m.mu.Lock()
	hist, ok := m.histories[name]
	if !ok {
		// Provider was removed while its check was in flight.
		m.mu.Unlock()
		return
	}
	m.cached[name] = cachedResult{
		result:  result,
		expires: m.clock.Now().Add(m.cfg.CacheDuration),
	}
	m.mu.Unlock()

	hist.Add(result)

	m.count("health.checks")
	if result.Status == StatusUnhealthy {
		m.count("health.failures")
	}
	if m.collector != nil {
		m.collector.SetGauge("health.status."+name, float64(result.Status))
		m.collector.Observe("health.probe_ms", float64(result.ResponseTime.Milliseconds()))
	}
}

func (m *Monitor) cachedResult(name string) (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.cached[name]
	if !ok || !m.clock.Now().Before(entry.expires) {
		return Result{}, false
	}
	return entry.result, true
}

func (m *Monitor) withLatestStatus(want Status) []string {
	var names []string
	for _, name := range m.Providers() {
		if result, ok := m.ProviderHealth(name); ok && result.Status == want {
			names = append(names, name)
		}
	}
	return names
}

func (m *Monitor) count(name string) {
	if m.collector != nil {
		m.collector.Inc(name, 1)
	}
}

func errMessage(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
