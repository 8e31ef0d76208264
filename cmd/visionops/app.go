package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonwraymond/visionops/cache"
	"github.com/jonwraymond/visionops/config"
	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/health"
	"github.com/jonwraymond/visionops/observe"
	"github.com/jonwraymond/visionops/resilience"
	"github.com/jonwraymond/visionops/secret"
	"github.com/jonwraymond/visionops/vision"
	"github.com/jonwraymond/visionops/vision/gemini"
)

// App holds the wired components commands run against. Everything is
// constructed in buildApp and injected; nothing in the repo is a global.
type App struct {
	Config    *config.Config
	Logger    observe.Logger
	Collector *observe.Collector
	Client    *vision.Client
	Monitor   *health.Monitor // nil when health monitoring is disabled
	Breakers  *resilience.BreakerGroup
	Handler   *fault.Handler

	observer    observe.Observer
	resolver    *secret.Resolver
	metricsPath string
}

// buildApp assembles the full call stack from configuration: observer,
// collector, secret resolver, providers, per-provider guard pipelines,
// health monitor, response cache, and the client tying them together.
func buildApp(ctx context.Context, opts options) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, cfg.ObserverConfig())
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, "cli", "build_observer", err)
	}
	logger := obs.Logger()
	collector := observe.NewCollector(observe.WithMeter(obs.Meter()))

	resolver := secret.NewResolver(true, secret.NewEnvProvider(), secret.NewFileProvider())
	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		return nil, fault.Wrap(fault.KindConfig, "cli", "resolve_secrets", err)
	}

	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, "cli", "build_middleware", err)
	}

	var monitor *health.Monitor
	if cfg.Health.IsEnabled() {
		monitor = health.NewMonitor(health.MonitorConfig{
			CheckInterval:        cfg.Health.CheckInterval,
			CacheDuration:        cfg.Health.CacheDuration,
			Timeout:              cfg.Health.Timeout,
			DegradedResponseTime: cfg.Health.DegradedResponseTime,
			DegradedWindow:       cfg.Health.DegradedWindow,
			Logger:               logger,
			Collector:            collector,
		})
	}

	breakers := resilience.NewBreakerGroup()

	clientOpts := []vision.ClientOption{
		vision.WithLogger(logger),
		vision.WithMiddleware(mw),
		vision.WithLimiterGroup(resilience.NewLimiterGroup()),
	}
	if monitor != nil {
		clientOpts = append(clientOpts, vision.WithMonitor(monitor))
	}
	if cfg.Cache.IsEnabled() {
		policy := cache.Policy{
			DefaultTTL: cfg.Cache.TTL,
			MaxTTL:     cfg.Cache.TTL,
			MaxEntries: cfg.Cache.MaxEntries,
		}
		clientOpts = append(clientOpts, vision.WithResponseCache(
			cache.NewResponseCache(cache.NewMemoryCache(policy), nil, policy)))
	}
	client := vision.NewClient(clientOpts...)

	for _, pc := range cfg.Providers {
		if !pc.IsEnabled() {
			continue
		}
		provider, err := buildProvider(ctx, pc)
		if err != nil {
			return nil, err
		}
		client.RegisterProvider(provider, buildPipeline(cfg, pc, opts, logger, collector, breakers))
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Collector: collector,
		Client:    client,
		Monitor:   monitor,
		Breakers:  breakers,
		Handler: fault.NewHandler(logger,
			fault.WithCollector(collector),
			fault.WithVerbose(opts.verbose),
			fault.WithColor(!opts.noColor)),
		observer:    obs,
		resolver:    resolver,
		metricsPath: opts.metricsPath,
	}, nil
}

// loadConfig reads the config file, or synthesizes the default single
// gemini setup when no file is given. The -model flag overrides every
// provider's model at construction time.
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fault.Wrap(fault.KindConfig, "cli", "load_config", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if cfg.Service.Version == "" {
		cfg.Service.Version = version
	}
	if opts.model != "" {
		for i := range cfg.Providers {
			cfg.Providers[i].Model = opts.model
		}
	}

	if err := cfg.Validate(); err != nil {
		fe := fault.Wrap(fault.KindConfig, "cli", "load_config", err)
		if opts.configPath == "" {
			fe = fe.WithMessage("no usable default configuration, set GEMINI_API_KEY or pass -config")
		}
		return nil, fe
	}
	return cfg, nil
}

// buildProvider constructs the adapter for one provider entry.
func buildProvider(ctx context.Context, pc config.ProviderConfig) (vision.Provider, error) {
	switch pc.Kind {
	case "gemini":
		return gemini.New(ctx, gemini.Config{APIKey: pc.APIKey, Model: pc.Model})
	default:
		return nil, fault.New(fault.KindConfig, "cli", "build_provider",
			fmt.Sprintf("unknown provider kind %q", pc.Kind))
	}
}

// buildPipeline assembles the guard chain for one provider from the
// global resilience sections and the provider's own overrides.
func buildPipeline(cfg *config.Config, pc config.ProviderConfig, opts options,
	logger observe.Logger, collector *observe.Collector, breakers *resilience.BreakerGroup) *resilience.Pipeline {

	name := pc.Name
	popts := []resilience.PipelineOption{
		resilience.WithLogger(logger),
		resilience.WithCollector(collector),
		resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: opts.concurrency,
		})),
	}
	if opts.timeout > 0 {
		popts = append(popts, resilience.WithTimeout(opts.timeout))
	}

	if cb := cfg.CircuitBreaker; cb.IsEnabled() {
		bcfg := resilience.BreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			ResetTimeout:     cb.ResetTimeout,
			TrackErrorTypes:  cb.TracksErrorTypes(),
			CriticalKinds:    cb.Kinds(),
			Logger:           logger,
			OnStateChange: func(from, to resilience.State) {
				collector.SetGauge("breaker.state."+name, float64(to))
			},
		}
		if cb.StatePath != "" {
			bcfg.Store = resilience.NewFileStore(filepath.Join(cb.StatePath, name+".json"))
		}
		popts = append(popts, resilience.WithBreaker(breakers.Register(name, bcfg)))
	}

	rl := cfg.RateLimit
	if pc.RateLimit != nil {
		rl = *pc.RateLimit
	}
	if rl.IsEnabled() {
		popts = append(popts, resilience.WithLimiter(resilience.NewLimiter(resilience.LimiterConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			BurstSize:         rl.BurstSize,
			QuotaPerDay:       rl.QuotaPerDay,
			MaxBackoffDelay:   rl.MaxBackoffDelay,
		})))
	}

	if r := cfg.Retry; r.IsEnabled() {
		popts = append(popts, resilience.WithRetryer(resilience.NewRetryer(resilience.RetryConfig{
			MaxAttempts:          r.MaxAttempts,
			BaseDelay:            r.BaseDelay,
			MaxDelay:             r.MaxDelay,
			Multiplier:           r.BackoffMultiplier,
			Jitter:               r.JitterEnabled(),
			RetryOnNetworkErrors: true,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Debug(context.Background(), "retrying provider call",
					observe.Field{Key: "provider", Value: name},
					observe.Field{Key: "attempt", Value: attempt},
					observe.Field{Key: "delay", Value: delay.String()},
					observe.Field{Key: "error", Value: err.Error()})
			},
		})))
	}

	return resilience.NewPipeline(popts...)
}

// Close releases everything buildApp started: stops background
// monitoring, writes the metrics snapshot, closes secret providers, and
// shuts the telemetry providers down.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.metricsPath != "" {
		if err := a.writeSnapshot(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.resolver.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.observer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// writeSnapshot dumps the collector's point-in-time metrics as JSON.
func (a *App) writeSnapshot() error {
	data, err := json.MarshalIndent(a.Collector.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot: %w", err)
	}
	if err := os.WriteFile(a.metricsPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write metrics snapshot: %w", err)
	}
	return nil
}
