package health

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/visionops/clock"
	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/observe"
)

func okProber(calls *atomic.Int32) ProberFunc {
	return func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(MonitorConfig{})

	if m.cfg.CheckInterval != 60*time.Second {
		t.Errorf("CheckInterval = %v, want 60s", m.cfg.CheckInterval)
	}
	if m.cfg.CacheDuration != 30*time.Second {
		t.Errorf("CacheDuration = %v, want 30s", m.cfg.CacheDuration)
	}
	if m.cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", m.cfg.Timeout)
	}
	if m.cfg.DegradedResponseTime != 10*time.Second {
		t.Errorf("DegradedResponseTime = %v, want 10s", m.cfg.DegradedResponseTime)
	}
	if m.cfg.DegradedWindow != 5 {
		t.Errorf("DegradedWindow = %d, want 5", m.cfg.DegradedWindow)
	}
}

func TestMonitor_CheckHealthy(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc})
	var calls atomic.Int32
	m.AddProvider("gemini", okProber(&calls))

	result, err := m.Check(context.Background(), "gemini")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", result.Status)
	}
	if result.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", result.Provider)
	}
	if result.Message != "ok" {
		t.Errorf("Message = %q, want ok", result.Message)
	}
	want := Details{Authenticated: true, Connected: true, EndpointAvailable: true}
	if result.Details != want {
		t.Errorf("Details = %+v, want all true", result.Details)
	}
	if !result.Timestamp.Equal(fc.Now()) {
		t.Errorf("Timestamp = %v, want %v", result.Timestamp, fc.Now())
	}

	latest, ok := m.ProviderHealth("gemini")
	if !ok {
		t.Fatal("ProviderHealth() not found after check")
	}
	if latest.Status != StatusHealthy {
		t.Errorf("latest Status = %v, want healthy", latest.Status)
	}
}

func TestMonitor_CheckUnknownProvider(t *testing.T) {
	m := NewMonitor(MonitorConfig{Clock: clock.NewFake()})

	_, err := m.Check(context.Background(), "nope")
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Check() error = %v, want ErrProviderNotFound", err)
	}
}

func TestMonitor_CacheHitSkipsProbe(t *testing.T) {
	fc := clock.NewFake()
	collector := observe.NewCollector()
	m := NewMonitor(MonitorConfig{Clock: fc, Collector: collector})
	var calls atomic.Int32
	m.AddProvider("gemini", okProber(&calls))

	first, _ := m.Check(context.Background(), "gemini")
	second, _ := m.Check(context.Background(), "gemini")

	if got := calls.Load(); got != 1 {
		t.Errorf("probe calls = %d, want 1", got)
	}
	if second != first {
		t.Errorf("cached result = %+v, want %+v", second, first)
	}
	if got := collector.Counter("health.cache_hits"); got != 1 {
		t.Errorf("health.cache_hits = %d, want 1", got)
	}
}

func TestMonitor_CacheExpires(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc, CacheDuration: 30 * time.Second})
	var calls atomic.Int32
	m.AddProvider("gemini", okProber(&calls))

	m.Check(context.Background(), "gemini")
	fc.Advance(30 * time.Second)
	m.Check(context.Background(), "gemini")

	if got := calls.Load(); got != 2 {
		t.Errorf("probe calls = %d, want 2", got)
	}
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc, Timeout: 10 * time.Second})

	release := make(chan struct{})
	defer close(release)
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
		<-release
		return nil
	}))

	resultCh := make(chan Result, 1)
	go func() {
		result, _ := m.Check(context.Background(), "gemini")
		resultCh <- result
	}()

	fc.BlockUntil(1)
	fc.Advance(10 * time.Second)
	result := <-resultCh

	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", result.Status)
	}
	if !errors.Is(result.Err, ErrProbeTimeout) {
		t.Errorf("Err = %v, want ErrProbeTimeout", result.Err)
	}
	if !fault.IsKind(result.Err, fault.KindTimeout) {
		t.Errorf("Err kind = %v, want timeout", fault.KindOf(result.Err))
	}
	if result.Details.Connected {
		t.Error("Connected = true, want false after timeout")
	}
	if result.ResponseTime != 10*time.Second {
		t.Errorf("ResponseTime = %v, want 10s", result.ResponseTime)
	}
}

func TestMonitor_StatusRules(t *testing.T) {
	tests := []struct {
		name       string
		probeErr   error
		wantStatus Status
		wantFlags  Details
	}{
		{
			name:       "healthy",
			probeErr:   nil,
			wantStatus: StatusHealthy,
			wantFlags:  Details{Authenticated: true, Connected: true, EndpointAvailable: true},
		},
		{
			name:       "auth failure degrades",
			probeErr:   fault.New(fault.KindAuth, "gemini", "health_check", "API key rejected"),
			wantStatus: StatusDegraded,
			wantFlags:  Details{Authenticated: false, Connected: true, EndpointAvailable: true},
		},
		{
			name:       "network failure is unhealthy",
			probeErr:   fault.New(fault.KindNetwork, "gemini", "health_check", "connection refused"),
			wantStatus: StatusUnhealthy,
			wantFlags:  Details{Authenticated: true, Connected: false, EndpointAvailable: true},
		},
		{
			name:       "timeout is unhealthy",
			probeErr:   fault.New(fault.KindTimeout, "gemini", "health_check", "deadline exceeded"),
			wantStatus: StatusUnhealthy,
			wantFlags:  Details{Authenticated: true, Connected: false, EndpointAvailable: true},
		},
		{
			name:       "server failure is unhealthy",
			probeErr:   fault.New(fault.KindServer, "gemini", "health_check", "internal error"),
			wantStatus: StatusUnhealthy,
			wantFlags:  Details{Authenticated: true, Connected: true, EndpointAvailable: false},
		},
		{
			name:       "client failure is unhealthy",
			probeErr:   fault.New(fault.KindClient, "gemini", "health_check", "bad request"),
			wantStatus: StatusUnhealthy,
			wantFlags:  Details{Authenticated: true, Connected: true, EndpointAvailable: false},
		},
		{
			name:       "unclassified failure is unhealthy",
			probeErr:   errors.New("boom"),
			wantStatus: StatusUnhealthy,
			wantFlags:  Details{Authenticated: true, Connected: true, EndpointAvailable: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(MonitorConfig{Clock: clock.NewFake()})
			m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
				return tt.probeErr
			}))

			result, err := m.Check(context.Background(), "gemini")
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if result.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", result.Status, tt.wantStatus)
			}
			if result.Details != tt.wantFlags {
				t.Errorf("Details = %+v, want %+v", result.Details, tt.wantFlags)
			}
		})
	}
}

func TestMonitor_DegradedWhenSlow(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{
		Clock:                fc,
		Timeout:              time.Minute,
		DegradedResponseTime: 10 * time.Second,
		DegradedWindow:       5,
	})
	slow := true
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
		if slow {
			fc.Advance(12 * time.Second)
		}
		return nil
	}))

	result, _ := m.Check(context.Background(), "gemini")
	if result.Status != StatusDegraded {
		t.Fatalf("Status = %v, want degraded for a 12s probe", result.Status)
	}
	if want := "average response time 12s exceeds 10s"; result.Message != want {
		t.Errorf("Message = %q, want %q", result.Message, want)
	}

	// A fast follow-up pulls the window average back under the threshold.
	slow = false
	fc.Advance(30 * time.Second)
	result, _ = m.Check(context.Background(), "gemini")
	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy once the average recovers", result.Status)
	}
}

func TestMonitor_ConcurrentChecksShareOneProbe(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc})
	var calls atomic.Int32
	m.AddProvider("gemini", okProber(&calls))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Check(context.Background(), "gemini")
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("probe calls = %d, want 1", got)
	}
}

func TestMonitor_CheckAll(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc})
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error { return nil }))
	m.AddProvider("backup", ProberFunc(func(ctx context.Context) error {
		return fault.New(fault.KindAuth, "backup", "health_check", "key expired")
	}))
	m.AddProvider("legacy", ProberFunc(func(ctx context.Context) error {
		return fault.New(fault.KindServer, "legacy", "health_check", "internal error")
	}))

	results := m.CheckAll(context.Background())

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results["gemini"].Status != StatusHealthy {
		t.Errorf("gemini = %v, want healthy", results["gemini"].Status)
	}
	if results["backup"].Status != StatusDegraded {
		t.Errorf("backup = %v, want degraded", results["backup"].Status)
	}
	if results["legacy"].Status != StatusUnhealthy {
		t.Errorf("legacy = %v, want unhealthy", results["legacy"].Status)
	}

	if healthy := m.Healthy(); len(healthy) != 1 || healthy[0] != "gemini" {
		t.Errorf("Healthy() = %v, want [gemini]", healthy)
	}
	if unhealthy := m.Unhealthy(); len(unhealthy) != 1 || unhealthy[0] != "legacy" {
		t.Errorf("Unhealthy() = %v, want [legacy]", unhealthy)
	}
	if got := m.Overall(); got != StatusUnhealthy {
		t.Errorf("Overall() = %v, want unhealthy", got)
	}
}

func TestMonitor_OverallDegraded(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc})
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error { return nil }))
	m.AddProvider("backup", ProberFunc(func(ctx context.Context) error {
		return fault.New(fault.KindAuth, "backup", "health_check", "key expired")
	}))

	m.CheckAll(context.Background())

	if got := m.Overall(); got != StatusDegraded {
		t.Errorf("Overall() = %v, want degraded", got)
	}
}

func TestMonitor_OverallWithNoResults(t *testing.T) {
	m := NewMonitor(MonitorConfig{Clock: clock.NewFake()})
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error { return nil }))

	if got := m.Overall(); got != StatusHealthy {
		t.Errorf("Overall() = %v, want healthy before any checks", got)
	}
}

func TestMonitor_RemoveProvider(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc})
	var calls atomic.Int32
	m.AddProvider("gemini", okProber(&calls))
	m.Check(context.Background(), "gemini")

	m.RemoveProvider("gemini")

	if _, err := m.Check(context.Background(), "gemini"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Check() error = %v, want ErrProviderNotFound", err)
	}
	if _, ok := m.ProviderHealth("gemini"); ok {
		t.Error("ProviderHealth() found a removed provider")
	}
	if names := m.Providers(); len(names) != 0 {
		t.Errorf("Providers() = %v, want empty", names)
	}
}

func TestMonitor_StartSchedulesChecks(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{
		Clock:         fc,
		CheckInterval: time.Minute,
		CacheDuration: 30 * time.Second,
	})
	probed := make(chan struct{}, 4)
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
		probed <- struct{}{}
		return nil
	}))

	m.Start()
	defer m.Stop()

	fc.Advance(time.Minute)
	waitProbe(t, probed)
	waitRecorded(t, m, "gemini", 1)

	fc.Advance(time.Minute)
	waitProbe(t, probed)
}

func TestMonitor_StopHaltsScheduling(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc, CheckInterval: time.Minute})
	var calls atomic.Int32
	probed := make(chan struct{}, 4)
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
		calls.Add(1)
		probed <- struct{}{}
		return nil
	}))

	m.Start()
	fc.Advance(time.Minute)
	waitProbe(t, probed)
	m.Stop()

	before := calls.Load()
	fc.Advance(10 * time.Minute)
	if got := calls.Load(); got != before {
		t.Errorf("probe calls after Stop = %d, want %d", got, before)
	}
}

func TestMonitor_AddProviderWhileRunning(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc, CheckInterval: time.Minute})
	m.Start()
	defer m.Stop()

	probed := make(chan struct{}, 4)
	m.AddProvider("late", ProberFunc(func(ctx context.Context) error {
		probed <- struct{}{}
		return nil
	}))

	fc.Advance(time.Minute)
	waitProbe(t, probed)
}

func TestMonitor_PanickingProbeIsRecovered(t *testing.T) {
	m := NewMonitor(MonitorConfig{Clock: clock.NewFake()})
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
		panic("probe exploded")
	}))

	result, err := m.Check(context.Background(), "gemini")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", result.Status)
	}
	if result.Err == nil || !strings.Contains(result.Err.Error(), "panicked") {
		t.Errorf("Err = %v, want panic message", result.Err)
	}
}

func TestMonitor_ContextCancelDuringProbe(t *testing.T) {
	fc := clock.NewFake()
	m := NewMonitor(MonitorConfig{Clock: fc, Timeout: 10 * time.Second})

	release := make(chan struct{})
	defer close(release)
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan Result, 1)
	go func() {
		result, _ := m.Check(ctx, "gemini")
		resultCh <- result
	}()

	fc.BlockUntil(1)
	cancel()
	result := <-resultCh

	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", result.Status)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
}

func TestMonitor_RecordsMetrics(t *testing.T) {
	fc := clock.NewFake()
	collector := observe.NewCollector()
	m := NewMonitor(MonitorConfig{Clock: fc, Collector: collector})
	m.AddProvider("gemini", ProberFunc(func(ctx context.Context) error {
		return fault.New(fault.KindServer, "gemini", "health_check", "internal error")
	}))

	m.Check(context.Background(), "gemini")

	if got := collector.Counter("health.checks"); got != 1 {
		t.Errorf("health.checks = %d, want 1", got)
	}
	if got := collector.Counter("health.failures"); got != 1 {
		t.Errorf("health.failures = %d, want 1", got)
	}
	gauge, ok := collector.Gauge("health.status.gemini")
	if !ok || gauge != float64(StatusUnhealthy) {
		t.Errorf("health.status.gemini = %v, %t, want %v", gauge, ok, float64(StatusUnhealthy))
	}
	if _, ok := collector.Summary("health.probe_ms"); !ok {
		t.Error("health.probe_ms histogram not recorded")
	}
}

func waitProbe(t *testing.T, probed <-chan struct{}) {
	t.Helper()
	select {
	case <-probed:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled check never probed")
	}
}

// waitRecorded waits for the named provider's history to reach n results,
// so the next advance lands after the check's cache window is in place.
func waitRecorded(t *testing.T, m *Monitor, name string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if results, ok := m.ProviderHistory(name); ok && len(results) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("history for %s never reached %d results", name, n)
}
