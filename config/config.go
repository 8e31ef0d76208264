// Package config provides YAML configuration loading with validation,
// strict environment expansion, and secret resolution for wiring the
// vision client and its providers.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/observe"
	"github.com/jonwraymond/visionops/secret"
)

// Config is the top-level visionops configuration. Retry, RateLimit, and
// CircuitBreaker sections apply to every provider; a provider entry can
// override its rate limit individually.
type Config struct {
	Service        ServiceConfig        `yaml:"service" json:"service"`
	Providers      []ProviderConfig     `yaml:"providers" json:"providers"`
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Health         HealthConfig         `yaml:"health" json:"health"`
	Cache          CacheConfig          `yaml:"cache" json:"cache"`
	Observability  ObservabilityConfig  `yaml:"observability" json:"observability"`
}

// ServiceConfig identifies the service in telemetry.
type ServiceConfig struct {
	Name    string `yaml:"name" json:"name"`       // Default: "visionops"
	Version string `yaml:"version" json:"version"` // stamped into telemetry resource attributes
}

// ProviderConfig describes a single vision provider registration.
type ProviderConfig struct {
	// Name identifies the provider in selection, logs, and cache keys.
	Name string `yaml:"name" json:"name"`
	// Kind selects the adapter implementation. Default: the provider name.
	Kind string `yaml:"kind" json:"kind"`
	// Model overrides the adapter's default model.
	Model string `yaml:"model" json:"model,omitempty"`
	// APIKey authenticates calls. Supports ${VAR} expansion and
	// secretref:<provider>:<ref> resolution. Never serialized.
	APIKey string `yaml:"api_key" json:"-"`
	// Enabled defaults to true; set to false to keep the entry without
	// registering the provider.
	Enabled *bool `yaml:"enabled" json:"enabled"`
	// RateLimit overrides the global limiter for this provider. Fields
	// left unset inherit the global rate_limit values.
	RateLimit *RateLimitConfig `yaml:"rate_limit" json:"rate_limit,omitempty"`
}

// IsEnabled returns whether the provider is registered (defaults to true).
func (p ProviderConfig) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// RetryConfig holds the retry orchestrator settings applied to all providers.
type RetryConfig struct {
	// Enabled defaults to true; set to false to fail on the first attempt.
	Enabled *bool `yaml:"enabled" json:"enabled"`
	// MaxAttempts caps total tries including the first. Default: 3.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// BaseDelay seeds the exponential backoff. Default: 1s.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
	// MaxDelay caps any single backoff sleep. Default: 30s.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// BackoffMultiplier grows the delay between attempts. Default: 2.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// Jitter randomizes delays to spread synchronized clients. Default: true.
	Jitter *bool `yaml:"jitter" json:"jitter"`
}

// IsEnabled returns whether retries are enabled (defaults to true).
func (r RetryConfig) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// JitterEnabled returns whether backoff jitter is enabled (defaults to true).
func (r RetryConfig) JitterEnabled() bool {
	if r.Jitter == nil {
		return true
	}
	return *r.Jitter
}

// RateLimitConfig holds token-bucket limiter settings.
type RateLimitConfig struct {
	// Enabled defaults to true; set to false to skip the limiter guard.
	Enabled *bool `yaml:"enabled" json:"enabled"`
	// RequestsPerSecond is the token refill rate. Default: 1.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	// BurstSize is the bucket capacity. Default: 5.
	BurstSize int `yaml:"burst_size" json:"burst_size"`
	// QuotaPerDay caps requests per calendar day. 0 means unlimited.
	QuotaPerDay int `yaml:"quota_per_day" json:"quota_per_day"`
	// MaxBackoffDelay caps rate-limit penalty windows. Default: 5m.
	MaxBackoffDelay time.Duration `yaml:"max_backoff_delay" json:"max_backoff_delay"`
}

// IsEnabled returns whether rate limiting is enabled (defaults to true).
func (r RateLimitConfig) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// CircuitBreakerConfig holds circuit breaker settings applied per provider.
type CircuitBreakerConfig struct {
	// Enabled defaults to true; set to false to skip the breaker guard.
	Enabled *bool `yaml:"enabled" json:"enabled"`
	// FailureThreshold opens the breaker after this many consecutive
	// failures. Default: 5.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold closes a half-open breaker after this many
	// consecutive successes. Default: 2.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
	// TrackErrorTypes keeps per-kind failure counts in breaker stats.
	// Default: true.
	TrackErrorTypes *bool `yaml:"track_error_types" json:"track_error_types"`
	// CriticalKinds name error kinds that open the breaker on a single
	// failure. Default: [authentication, validation].
	CriticalKinds []string `yaml:"critical_kinds" json:"critical_kinds"`
	// StatePath is a directory where per-provider breaker state is
	// persisted as JSON. Empty disables persistence.
	StatePath string `yaml:"state_path" json:"state_path"`
}

// IsEnabled returns whether circuit breaking is enabled (defaults to true).
func (c CircuitBreakerConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// TracksErrorTypes returns whether per-kind failure counts are kept
// (defaults to true).
func (c CircuitBreakerConfig) TracksErrorTypes() bool {
	if c.TrackErrorTypes == nil {
		return true
	}
	return *c.TrackErrorTypes
}

// Kinds returns the parsed critical error kinds.
func (c CircuitBreakerConfig) Kinds() []fault.Kind {
	kinds := make([]fault.Kind, 0, len(c.CriticalKinds))
	for _, name := range c.CriticalKinds {
		kinds = append(kinds, fault.ParseKind(name))
	}
	return kinds
}

// HealthConfig holds provider health monitoring settings.
type HealthConfig struct {
	// Enabled defaults to true; set to false to skip background probing.
	Enabled *bool `yaml:"enabled" json:"enabled"`
	// CheckInterval is the background probe period. Default: 60s.
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	// CacheDuration is how long a probe result is served without
	// re-probing. Default: 30s.
	CacheDuration time.Duration `yaml:"cache_duration" json:"cache_duration"`
	// Timeout bounds a single probe. Default: 10s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// DegradedResponseTime marks a provider degraded when its average
	// probe latency over the window exceeds it. Default: 10s.
	DegradedResponseTime time.Duration `yaml:"degraded_response_time" json:"degraded_response_time"`
	// DegradedWindow is the number of recent probes averaged. Default: 5.
	DegradedWindow int `yaml:"degraded_window" json:"degraded_window"`
}

// IsEnabled returns whether health monitoring is enabled (defaults to true).
func (h HealthConfig) IsEnabled() bool {
	if h.Enabled == nil {
		return true
	}
	return *h.Enabled
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	// Enabled defaults to true; set to false to call providers on every
	// request.
	Enabled *bool `yaml:"enabled" json:"enabled"`
	// TTL is how long cached responses are served. Default: 5m.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// MaxEntries bounds how many responses are held at once; the entry
	// closest to expiry is evicted when full. Default: 0 (unbounded).
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// IsEnabled returns whether response caching is enabled (defaults to true).
func (c CacheConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ObservabilityConfig holds telemetry settings, mirroring observe.Config.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Exporter  string  `yaml:"exporter" json:"exporter"`     // otlp|jaeger|stdout|none
	SamplePct float64 `yaml:"sample_pct" json:"sample_pct"` // 0.0-1.0
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Exporter string `yaml:"exporter" json:"exporter"` // otlp|prometheus|stdout|none
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Level   string `yaml:"level" json:"level"` // debug|info|warn|error
}

// ValidProviderKinds are the provider adapter kinds this build can construct.
var ValidProviderKinds = map[string]bool{
	"gemini": true,
}

// Load reads and parses a YAML configuration file, applies strict
// environment expansion, sets defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Expansion runs
// on the raw document, so ${VAR} works in any field and a missing
// variable fails the load instead of slipping through as a literal.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded, err := secret.ExpandEnvStrict(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is given: a
// single gemini provider reading its key from GEMINI_API_KEY. The result
// has defaults applied but is not validated; callers overlay flag values
// and then call Validate.
func Default() *Config {
	cfg := &Config{
		Providers: []ProviderConfig{{
			Name:   "gemini",
			APIKey: os.Getenv("GEMINI_API_KEY"),
		}},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "visionops"
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Kind == "" {
			cfg.Providers[i].Kind = cfg.Providers[i].Name
		}
	}

	// Retry defaults
	r := &cfg.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 30 * time.Second
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2
	}

	// Rate limit defaults
	rl := &cfg.RateLimit
	if rl.RequestsPerSecond == 0 {
		rl.RequestsPerSecond = 1
	}
	if rl.BurstSize == 0 {
		rl.BurstSize = 5
	}
	if rl.MaxBackoffDelay == 0 {
		rl.MaxBackoffDelay = 5 * time.Minute
	}

	// Per-provider overrides inherit global values for fields left unset.
	for i := range cfg.Providers {
		o := cfg.Providers[i].RateLimit
		if o == nil {
			continue
		}
		if o.RequestsPerSecond == 0 {
			o.RequestsPerSecond = rl.RequestsPerSecond
		}
		if o.BurstSize == 0 {
			o.BurstSize = rl.BurstSize
		}
		if o.QuotaPerDay == 0 {
			o.QuotaPerDay = rl.QuotaPerDay
		}
		if o.MaxBackoffDelay == 0 {
			o.MaxBackoffDelay = rl.MaxBackoffDelay
		}
	}

	// Circuit breaker defaults
	cb := &cfg.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 2
	}
	if cb.ResetTimeout == 0 {
		cb.ResetTimeout = 30 * time.Second
	}
	if cb.CriticalKinds == nil {
		cb.CriticalKinds = []string{"authentication", "validation"}
	}

	// Health defaults
	h := &cfg.Health
	if h.CheckInterval == 0 {
		h.CheckInterval = 60 * time.Second
	}
	if h.CacheDuration == 0 {
		h.CacheDuration = 30 * time.Second
	}
	if h.Timeout == 0 {
		h.Timeout = 10 * time.Second
	}
	if h.DegradedResponseTime == 0 {
		h.DegradedResponseTime = 10 * time.Second
	}
	if h.DegradedWindow == 0 {
		h.DegradedWindow = 5
	}

	// Cache defaults
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
}

// Validate checks the configuration for internal consistency. Sections
// disabled via their Enabled flag are not validated.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
		if !ValidProviderKinds[p.Kind] {
			return fmt.Errorf("providers[%d].kind: unknown provider kind %q", i, p.Kind)
		}
		if p.IsEnabled() && p.APIKey == "" {
			return fmt.Errorf("providers[%d].api_key is required when the provider is enabled", i)
		}
		if o := p.RateLimit; o != nil && o.IsEnabled() {
			if o.RequestsPerSecond <= 0 {
				return fmt.Errorf("providers[%d].rate_limit.requests_per_second must be positive", i)
			}
			if o.BurstSize < 1 {
				return fmt.Errorf("providers[%d].rate_limit.burst_size must be at least 1", i)
			}
			if o.QuotaPerDay < 0 {
				return fmt.Errorf("providers[%d].rate_limit.quota_per_day must be non-negative", i)
			}
		}
	}

	if r := c.Retry; r.IsEnabled() {
		if r.MaxAttempts < 1 {
			return fmt.Errorf("retry.max_attempts must be at least 1")
		}
		if r.BaseDelay <= 0 {
			return fmt.Errorf("retry.base_delay must be positive")
		}
		if r.MaxDelay < r.BaseDelay {
			return fmt.Errorf("retry.max_delay must be at least base_delay")
		}
		if r.BackoffMultiplier < 1 {
			return fmt.Errorf("retry.backoff_multiplier must be at least 1")
		}
	}

	if rl := c.RateLimit; rl.IsEnabled() {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if rl.BurstSize < 1 {
			return fmt.Errorf("rate_limit.burst_size must be at least 1")
		}
		if rl.QuotaPerDay < 0 {
			return fmt.Errorf("rate_limit.quota_per_day must be non-negative")
		}
		if rl.MaxBackoffDelay <= 0 {
			return fmt.Errorf("rate_limit.max_backoff_delay must be positive")
		}
	}

	if cb := c.CircuitBreaker; cb.IsEnabled() {
		if cb.FailureThreshold < 1 {
			return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
		}
		if cb.SuccessThreshold < 1 {
			return fmt.Errorf("circuit_breaker.success_threshold must be positive")
		}
		if cb.ResetTimeout <= 0 {
			return fmt.Errorf("circuit_breaker.reset_timeout must be positive")
		}
		for j, name := range cb.CriticalKinds {
			if fault.ParseKind(name) == fault.KindUnknown {
				return fmt.Errorf("circuit_breaker.critical_kinds[%d]: unknown error kind %q", j, name)
			}
		}
	}

	if h := c.Health; h.IsEnabled() {
		if h.CheckInterval <= 0 {
			return fmt.Errorf("health.check_interval must be positive")
		}
		if h.CacheDuration < 0 {
			return fmt.Errorf("health.cache_duration must be non-negative")
		}
		if h.Timeout <= 0 {
			return fmt.Errorf("health.timeout must be positive")
		}
		if h.DegradedResponseTime <= 0 {
			return fmt.Errorf("health.degraded_response_time must be positive")
		}
		if h.DegradedWindow < 1 {
			return fmt.Errorf("health.degraded_window must be at least 1")
		}
	}

	if c.Cache.IsEnabled() {
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive")
		}
		if c.Cache.MaxEntries < 0 {
			return fmt.Errorf("cache.max_entries must be >= 0")
		}
	}

	oc := c.ObserverConfig()
	if err := oc.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	return nil
}

// ObserverConfig converts the service and observability sections into the
// config consumed by observe.NewObserver.
func (c *Config) ObserverConfig() observe.Config {
	return observe.Config{
		ServiceName: c.Service.Name,
		Version:     c.Service.Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Observability.Tracing.Enabled,
			Exporter:  c.Observability.Tracing.Exporter,
			SamplePct: c.Observability.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Observability.Metrics.Enabled,
			Exporter: c.Observability.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: c.Observability.Logging.Enabled,
			Level:   c.Observability.Logging.Level,
		},
	}
}

// ResolveSecrets resolves provider API keys through the resolver,
// replacing secretref values in place. Call after Load and before
// constructing providers. Environment expansion already ran on the
// whole document at load time, so only references are resolved here;
// a $ inside a resolved key stays as it is.
func (c *Config) ResolveSecrets(ctx context.Context, resolver *secret.Resolver) error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey == "" {
			continue
		}
		resolved, err := resolver.ResolveRefs(ctx, p.APIKey)
		if err != nil {
			return fmt.Errorf("providers[%d].api_key: %w", i, err)
		}
		p.APIKey = resolved
	}
	return nil
}
