// Package resilience guards calls to vision providers.
//
// Vision APIs are metered, rate limited, and occasionally down. This
// package implements the patterns that keep a client useful anyway,
// composed into a per-provider pipeline.
//
// # Patterns
//
// The package provides the following patterns:
//
//   - Circuit Breaker: stops calling a failing provider after a
//     threshold of consecutive failures, then probes for recovery
//     after a reset timeout. State survives restarts via a
//     BreakerStore.
//
//   - Rate Limiter: a token bucket with a daily quota and
//     provider-driven penalty windows, so local call rates stay under
//     the provider's published limits.
//
//   - Retry: reruns transient failures with exponential backoff and
//     jitter, classifying errors by kind, message, and HTTP status.
//
//   - Bulkhead: caps in-flight calls so one slow provider cannot pin
//     every worker in a batch.
//
//   - Timeout: bounds each attempt and abandons calls that overrun.
//
// # Usage
//
// Each pattern can be used on its own, but most callers compose them
// into a Pipeline:
//
//	breaker := resilience.NewBreaker(resilience.BreakerConfig{
//	    FailureThreshold: 5,
//	    ResetTimeout:     30 * time.Second,
//	})
//
//	limiter := resilience.NewLimiter(resilience.LimiterConfig{
//	    RequestsPerSecond: 2,
//	    BurstSize:         10,
//	    QuotaPerDay:       1500,
//	})
//
//	pipeline := resilience.NewPipeline(
//	    resilience.WithBreaker(breaker),
//	    resilience.WithLimiter(limiter),
//	    resilience.WithRetryer(resilience.NewRetryer(resilience.DefaultRetryConfig())),
//	    resilience.WithTimeout(60*time.Second),
//	)
//
//	err := pipeline.Do(ctx, func(ctx context.Context) error {
//	    return callProvider(ctx)
//	})
//
// The pipeline checks the breaker first, waits for a rate limit token,
// then runs the call under the retryer. Attempt outcomes feed back into
// the breaker and limiter, so repeated failures open the circuit and
// rate limit responses start a penalty window.
package resilience
