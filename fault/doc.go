// Package fault provides the error taxonomy for vision provider calls.
//
// Every error surfaced by a provider adapter is tagged with a Kind from a
// closed set. Policy decisions (retry, breaker trip, limiter backoff) branch
// on the Kind through Analyze, never on message text. Generic errors from
// outside the adapters pass through type and message heuristics as a
// fallback.
//
// # Usage
//
// Adapters construct classified errors:
//
//	err := fault.New(fault.KindRateLimit, "gemini", "analyze_image", "quota exceeded").
//	    WithStatus(429).
//	    WithRetryAfter(30 * time.Second)
//
// Callers classify and act:
//
//	analysis := fault.Analyze(err)
//	if analysis.Retryable {
//	    // schedule a retry, honoring analysis.RetryAfter when set
//	}
//
// The Handler is the single terminal sink: it logs, records metrics, prints
// a user-facing message and exits with fault.ExitCode(err).
package fault
