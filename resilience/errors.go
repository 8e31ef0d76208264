package resilience

import "errors"

// Every rejection in this package surfaces as one of these sentinels,
// usually wrapped with the wait time or reason. Callers branch with
// errors.Is; none of them carry the provider's own error.
var (
	// ErrCircuitOpen: the breaker is refusing calls until its cooldown ends.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimited: no token was available within the caller's patience.
	ErrRateLimited = errors.New("resilience: rate limited")

	// ErrQuotaExhausted: the daily request budget is spent until the reset.
	ErrQuotaExhausted = errors.New("resilience: daily quota exhausted")

	// ErrBulkheadFull: too many calls already in flight.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout: the call outlived its per-attempt deadline.
	ErrTimeout = errors.New("resilience: operation timed out")
)
