package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/secret"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	yaml := []byte(`
providers:
  - name: gemini
    api_key: test-key
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Service.Name != "visionops" {
		t.Errorf("expected default service name visionops, got %q", cfg.Service.Name)
	}
	if cfg.Providers[0].Kind != "gemini" {
		t.Errorf("expected kind to default to the provider name, got %q", cfg.Providers[0].Kind)
	}
	if !cfg.Providers[0].IsEnabled() {
		t.Error("expected provider enabled by default")
	}

	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("expected default base_delay 1s, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("expected default max_delay 30s, got %v", cfg.Retry.MaxDelay)
	}
	if cfg.Retry.BackoffMultiplier != 2 {
		t.Errorf("expected default backoff_multiplier 2, got %f", cfg.Retry.BackoffMultiplier)
	}
	if !cfg.Retry.JitterEnabled() {
		t.Error("expected jitter enabled by default")
	}

	if cfg.RateLimit.RequestsPerSecond != 1 {
		t.Errorf("expected default rps 1, got %f", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.BurstSize != 5 {
		t.Errorf("expected default burst 5, got %d", cfg.RateLimit.BurstSize)
	}
	if cfg.RateLimit.QuotaPerDay != 0 {
		t.Errorf("expected default quota 0 (unlimited), got %d", cfg.RateLimit.QuotaPerDay)
	}
	if cfg.RateLimit.MaxBackoffDelay != 5*time.Minute {
		t.Errorf("expected default max_backoff_delay 5m, got %v", cfg.RateLimit.MaxBackoffDelay)
	}

	if cfg.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("expected default failure_threshold 5, got %d", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("expected default success_threshold 2, got %d", cfg.CircuitBreaker.SuccessThreshold)
	}
	if cfg.CircuitBreaker.ResetTimeout != 30*time.Second {
		t.Errorf("expected default reset_timeout 30s, got %v", cfg.CircuitBreaker.ResetTimeout)
	}
	if !cfg.CircuitBreaker.TracksErrorTypes() {
		t.Error("expected track_error_types enabled by default")
	}
	wantKinds := []string{"authentication", "validation"}
	if len(cfg.CircuitBreaker.CriticalKinds) != len(wantKinds) {
		t.Fatalf("expected critical kinds %v, got %v", wantKinds, cfg.CircuitBreaker.CriticalKinds)
	}
	for i, k := range wantKinds {
		if cfg.CircuitBreaker.CriticalKinds[i] != k {
			t.Errorf("critical kind %d: expected %q, got %q", i, k, cfg.CircuitBreaker.CriticalKinds[i])
		}
	}

	if cfg.Health.CheckInterval != 60*time.Second {
		t.Errorf("expected default check_interval 60s, got %v", cfg.Health.CheckInterval)
	}
	if cfg.Health.CacheDuration != 30*time.Second {
		t.Errorf("expected default cache_duration 30s, got %v", cfg.Health.CacheDuration)
	}
	if cfg.Health.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", cfg.Health.Timeout)
	}
	if cfg.Health.DegradedResponseTime != 10*time.Second {
		t.Errorf("expected default degraded_response_time 10s, got %v", cfg.Health.DegradedResponseTime)
	}
	if cfg.Health.DegradedWindow != 5 {
		t.Errorf("expected default degraded_window 5, got %d", cfg.Health.DegradedWindow)
	}

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("expected default cache ttl 5m, got %v", cfg.Cache.TTL)
	}
	if !cfg.Cache.IsEnabled() {
		t.Error("expected cache enabled by default")
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := []byte(`
service:
  name: vision-batch
  version: 1.2.0
providers:
  - name: gemini
    model: gemini-2.5-pro
    api_key: test-key
    rate_limit:
      requests_per_second: 0.5
retry:
  max_attempts: 5
  base_delay: 2s
  max_delay: 45s
  backoff_multiplier: 3
  jitter: false
rate_limit:
  requests_per_second: 10
  burst_size: 20
  quota_per_day: 1000
  max_backoff_delay: 10m
circuit_breaker:
  failure_threshold: 3
  success_threshold: 1
  reset_timeout: 15s
  track_error_types: false
  critical_kinds: ["auth"]
  state_path: /var/lib/visionops/breakers
health:
  check_interval: 30s
  cache_duration: 10s
  timeout: 5s
  degraded_response_time: 2s
  degraded_window: 3
cache:
  enabled: false
  ttl: 1m
  max_entries: 64
observability:
  tracing:
    enabled: true
    exporter: stdout
    sample_pct: 0.25
  metrics:
    enabled: true
    exporter: prometheus
  logging:
    enabled: true
    level: debug
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Service.Name != "vision-batch" || cfg.Service.Version != "1.2.0" {
		t.Errorf("unexpected service section: %+v", cfg.Service)
	}
	if cfg.Providers[0].Model != "gemini-2.5-pro" {
		t.Errorf("expected model gemini-2.5-pro, got %q", cfg.Providers[0].Model)
	}

	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 2*time.Second || cfg.Retry.MaxDelay != 45*time.Second {
		t.Errorf("unexpected retry delays: %v / %v", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}
	if cfg.Retry.JitterEnabled() {
		t.Error("expected jitter disabled")
	}

	if cfg.RateLimit.QuotaPerDay != 1000 {
		t.Errorf("expected quota 1000, got %d", cfg.RateLimit.QuotaPerDay)
	}
	if cfg.RateLimit.MaxBackoffDelay != 10*time.Minute {
		t.Errorf("expected max_backoff_delay 10m, got %v", cfg.RateLimit.MaxBackoffDelay)
	}

	if cfg.CircuitBreaker.TracksErrorTypes() {
		t.Error("expected track_error_types disabled")
	}
	if cfg.CircuitBreaker.StatePath != "/var/lib/visionops/breakers" {
		t.Errorf("unexpected state_path %q", cfg.CircuitBreaker.StatePath)
	}
	if len(cfg.CircuitBreaker.CriticalKinds) != 1 || cfg.CircuitBreaker.CriticalKinds[0] != "auth" {
		t.Errorf("expected critical kinds [auth], got %v", cfg.CircuitBreaker.CriticalKinds)
	}

	if cfg.Health.CheckInterval != 30*time.Second || cfg.Health.DegradedWindow != 3 {
		t.Errorf("unexpected health section: %+v", cfg.Health)
	}

	if cfg.Cache.IsEnabled() {
		t.Error("expected cache disabled")
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("expected cache ttl 1m, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxEntries != 64 {
		t.Errorf("expected cache max_entries 64, got %d", cfg.Cache.MaxEntries)
	}

	o := cfg.Observability
	if !o.Tracing.Enabled || o.Tracing.Exporter != "stdout" || o.Tracing.SamplePct != 0.25 {
		t.Errorf("unexpected tracing section: %+v", o.Tracing)
	}
	if !o.Metrics.Enabled || o.Metrics.Exporter != "prometheus" {
		t.Errorf("unexpected metrics section: %+v", o.Metrics)
	}
	if !o.Logging.Enabled || o.Logging.Level != "debug" {
		t.Errorf("unexpected logging section: %+v", o.Logging)
	}
}

func TestLoadFromBytes_ProviderRateLimitInheritsGlobal(t *testing.T) {
	yaml := []byte(`
providers:
  - name: gemini
    api_key: test-key
    rate_limit:
      requests_per_second: 0.5
rate_limit:
  requests_per_second: 10
  burst_size: 20
  quota_per_day: 1000
  max_backoff_delay: 10m
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o := cfg.Providers[0].RateLimit
	if o == nil {
		t.Fatal("expected a provider rate limit override")
	}
	if o.RequestsPerSecond != 0.5 {
		t.Errorf("expected override rps 0.5, got %f", o.RequestsPerSecond)
	}
	if o.BurstSize != 20 {
		t.Errorf("expected burst inherited from global (20), got %d", o.BurstSize)
	}
	if o.QuotaPerDay != 1000 {
		t.Errorf("expected quota inherited from global (1000), got %d", o.QuotaPerDay)
	}
	if o.MaxBackoffDelay != 10*time.Minute {
		t.Errorf("expected max_backoff_delay inherited from global (10m), got %v", o.MaxBackoffDelay)
	}
}

func TestLoadFromBytes_EnvVarSubstitution(t *testing.T) {
	t.Setenv("VISIONOPS_TEST_KEY", "env-key-value")

	yaml := []byte(`
providers:
  - name: gemini
    api_key: "${VISIONOPS_TEST_KEY}"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers[0].APIKey != "env-key-value" {
		t.Errorf("expected env var expansion, got %q", cfg.Providers[0].APIKey)
	}
}

func TestLoadFromBytes_MissingEnvVarFails(t *testing.T) {
	os.Unsetenv("VISIONOPS_UNSET_KEY")

	yaml := []byte(`
providers:
  - name: gemini
    api_key: "${VISIONOPS_UNSET_KEY}"
`)
	_, err := LoadFromBytes(yaml)
	if err == nil {
		t.Fatal("expected error for missing environment variable")
	}
	if !strings.Contains(err.Error(), "VISIONOPS_UNSET_KEY") {
		t.Errorf("expected the missing variable to be named, got: %v", err)
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no providers",
			yaml: `
providers: []
`,
			want: "at least one provider",
		},
		{
			name: "provider missing name",
			yaml: `
providers:
  - kind: gemini
    api_key: k
`,
			want: "providers[0].name",
		},
		{
			name: "duplicate provider name",
			yaml: `
providers:
  - name: gemini
    api_key: k
  - name: gemini
    api_key: k
`,
			want: "duplicate provider name",
		},
		{
			name: "unknown provider kind",
			yaml: `
providers:
  - name: vision
    kind: openai
    api_key: k
`,
			want: "unknown provider kind",
		},
		{
			name: "enabled provider missing api_key",
			yaml: `
providers:
  - name: gemini
`,
			want: "providers[0].api_key",
		},
		{
			name: "negative requests_per_second",
			yaml: `
providers:
  - name: gemini
    api_key: k
rate_limit:
  requests_per_second: -1
`,
			want: "rate_limit.requests_per_second",
		},
		{
			name: "negative burst_size",
			yaml: `
providers:
  - name: gemini
    api_key: k
rate_limit:
  burst_size: -1
`,
			want: "rate_limit.burst_size",
		},
		{
			name: "max_delay below base_delay",
			yaml: `
providers:
  - name: gemini
    api_key: k
retry:
  base_delay: 10s
  max_delay: 5s
`,
			want: "retry.max_delay",
		},
		{
			name: "backoff_multiplier below one",
			yaml: `
providers:
  - name: gemini
    api_key: k
retry:
  backoff_multiplier: 0.5
`,
			want: "retry.backoff_multiplier",
		},
		{
			name: "unknown critical kind",
			yaml: `
providers:
  - name: gemini
    api_key: k
circuit_breaker:
  critical_kinds: ["flaky"]
`,
			want: "unknown error kind",
		},
		{
			name: "negative reset_timeout",
			yaml: `
providers:
  - name: gemini
    api_key: k
circuit_breaker:
  reset_timeout: -5s
`,
			want: "circuit_breaker.reset_timeout",
		},
		{
			name: "negative check_interval",
			yaml: `
providers:
  - name: gemini
    api_key: k
health:
  check_interval: -10s
`,
			want: "health.check_interval",
		},
		{
			name: "negative cache ttl",
			yaml: `
providers:
  - name: gemini
    api_key: k
cache:
  ttl: -1m
`,
			want: "cache.ttl",
		},
		{
			name: "negative cache max entries",
			yaml: `
providers:
  - name: gemini
    api_key: k
cache:
  max_entries: -1
`,
			want: "cache.max_entries",
		},
		{
			name: "sample_pct out of range",
			yaml: `
providers:
  - name: gemini
    api_key: k
observability:
  tracing:
    enabled: true
    exporter: stdout
    sample_pct: 1.5
`,
			want: "observability",
		},
		{
			name: "unknown tracing exporter",
			yaml: `
providers:
  - name: gemini
    api_key: k
observability:
  tracing:
    enabled: true
    exporter: zipkin
`,
			want: "observability",
		},
		{
			name: "unknown log level",
			yaml: `
providers:
  - name: gemini
    api_key: k
observability:
  logging:
    enabled: true
    level: trace
`,
			want: "observability",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestLoadFromBytes_DisabledSectionsSkipValidation(t *testing.T) {
	yaml := []byte(`
providers:
  - name: gemini
    api_key: test-key
  - name: paused
    kind: gemini
    enabled: false
rate_limit:
  enabled: false
  requests_per_second: -5
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.IsEnabled() {
		t.Error("expected rate limiting disabled")
	}
	if cfg.Providers[1].IsEnabled() {
		t.Error("expected the paused provider to stay disabled")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/visionops.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_FromFile(t *testing.T) {
	content := `
providers:
  - name: gemini
    api_key: file-key
`
	dir := t.TempDir()
	path := filepath.Join(dir, "visionops.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers[0].APIKey != "file-key" {
		t.Errorf("expected file-key, got %q", cfg.Providers[0].APIKey)
	}
}

func TestConfig_ResolveSecrets(t *testing.T) {
	t.Setenv("VISIONOPS_SECRET_KEY", "resolved-key")

	yaml := []byte(`
providers:
  - name: gemini
    api_key: "secretref:env:VISIONOPS_SECRET_KEY"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers[0].APIKey != "secretref:env:VISIONOPS_SECRET_KEY" {
		t.Fatalf("expected secretref to survive loading, got %q", cfg.Providers[0].APIKey)
	}

	resolver := secret.NewResolver(true, secret.NewEnvProvider())
	if err := cfg.ResolveSecrets(context.Background(), resolver); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers[0].APIKey != "resolved-key" {
		t.Errorf("expected resolved key, got %q", cfg.Providers[0].APIKey)
	}
}

func TestConfig_ResolveSecrets_UnknownProvider(t *testing.T) {
	cfg := &Config{Providers: []ProviderConfig{{
		Name:   "gemini",
		APIKey: "secretref:vault:visionops/key",
	}}}

	err := cfg.ResolveSecrets(context.Background(), secret.NewResolver(true, secret.NewEnvProvider()))
	if err == nil {
		t.Fatal("expected error for unregistered secret provider")
	}
	if !strings.Contains(err.Error(), "providers[0].api_key") {
		t.Errorf("expected field-qualified error, got: %v", err)
	}
}

func TestConfig_ObserverConfig(t *testing.T) {
	cfg := &Config{
		Service: ServiceConfig{Name: "svc", Version: "9.9.9"},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{Enabled: true, Exporter: "stdout", SamplePct: 0.5},
			Metrics: MetricsConfig{Enabled: true, Exporter: "prometheus"},
			Logging: LoggingConfig{Enabled: true, Level: "warn"},
		},
	}

	oc := cfg.ObserverConfig()
	if oc.ServiceName != "svc" || oc.Version != "9.9.9" {
		t.Errorf("unexpected service identity: %q %q", oc.ServiceName, oc.Version)
	}
	if !oc.Tracing.Enabled || oc.Tracing.Exporter != "stdout" || oc.Tracing.SamplePct != 0.5 {
		t.Errorf("unexpected tracing config: %+v", oc.Tracing)
	}
	if !oc.Metrics.Enabled || oc.Metrics.Exporter != "prometheus" {
		t.Errorf("unexpected metrics config: %+v", oc.Metrics)
	}
	if !oc.Logging.Enabled || oc.Logging.Level != "warn" {
		t.Errorf("unexpected logging config: %+v", oc.Logging)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "ambient-key")

	cfg := Default()
	if cfg.Service.Name != "visionops" {
		t.Errorf("expected service name visionops, got %q", cfg.Service.Name)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(cfg.Providers))
	}
	p := cfg.Providers[0]
	if p.Name != "gemini" || p.Kind != "gemini" {
		t.Errorf("expected a gemini provider, got %+v", p)
	}
	if p.APIKey != "ambient-key" {
		t.Errorf("expected key from GEMINI_API_KEY, got %q", p.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestCircuitBreakerConfig_Kinds(t *testing.T) {
	cb := CircuitBreakerConfig{CriticalKinds: []string{"authentication", "validation"}}
	kinds := cb.Kinds()

	want := []fault.Kind{fault.KindAuth, fault.KindValidation}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d kinds, got %d", len(want), len(kinds))
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("kind %d: expected %v, got %v", i, k, kinds[i])
		}
	}
}
