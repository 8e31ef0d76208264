// Package health monitors the availability of vision providers.
//
// A Prober is a provider's lightweight health probe. The Monitor runs
// probes on demand and on a schedule, derives a Status from each outcome,
// and keeps a bounded per-provider History with rolling performance.
//
// # Status Rule
//
// A check is unhealthy when the provider is unreachable or its endpoint
// does not answer, degraded when credentials are rejected or the average
// response time over the recent window is too slow, and healthy
// otherwise. The detail flags behind the rule come from the probe
// error's fault kind.
//
// # Usage
//
//	monitor := health.NewMonitor(health.MonitorConfig{
//	    CheckInterval: time.Minute,
//	    Timeout:       10 * time.Second,
//	})
//	monitor.AddProvider("gemini", prober)
//
//	result, err := monitor.Check(ctx, "gemini")
//	if err == nil && result.Status != health.StatusHealthy {
//	    log.Printf("gemini: %s", result.Message)
//	}
//
// Results are cached for CacheDuration, and concurrent checks for the
// same provider share one probe. Start begins background monitoring with
// one ticker per provider; Stop halts it and waits for in-flight checks.
//
// # HTTP Endpoints
//
// The package provides handlers over the monitor's latest results:
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, monitor) // /healthz, /readyz, /health
//	mux.Handle("/metrics", health.MetricsHandler())
package health
