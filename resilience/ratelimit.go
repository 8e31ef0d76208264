package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonwraymond/visionops/clock"
)

// Denial reasons reported by Limiter.Check.
const (
	// ReasonBackoff means a provider-imposed penalty window is active.
	ReasonBackoff = "backoff active"
	// ReasonQuota means the daily request quota is spent.
	ReasonQuota = "daily quota exhausted"
	// ReasonTokens means the token bucket is empty.
	ReasonTokens = "insufficient tokens"
)

// penaltyBurnTokens is how many tokens a penalty removes from the
// bucket, so a fresh burst cannot immediately follow a rate limit hit.
const penaltyBurnTokens = 5

// waitPollCap bounds each sleep in Wait so cancellation stays responsive.
const waitPollCap = time.Second

// LimiterConfig configures a rate limiter.
type LimiterConfig struct {
	// RequestsPerSecond is the sustained refill rate.
	// Default: 1
	RequestsPerSecond float64

	// BurstSize is the bucket capacity.
	// Default: 5
	BurstSize int

	// QuotaPerDay caps total requests per calendar day. Zero means
	// unlimited.
	QuotaPerDay int

	// MaxBackoffDelay caps the penalty window computed when a provider
	// signals rate limiting without a retry hint.
	// Default: 5 minutes
	MaxBackoffDelay time.Duration

	// Clock is the time source for refills, penalties, and quota
	// rollover.
	// Default: clock.System()
	Clock clock.Clock
}

// Verdict is the outcome of a single admission check.
type Verdict struct {
	// Allowed reports whether the request was admitted. An admitted
	// request has already consumed a token and a quota slot.
	Allowed bool
	// TokensRemaining is the bucket level after the check.
	TokensRemaining float64
	// WaitTime estimates how long until the request would be allowed.
	// Zero when allowed.
	WaitTime time.Duration
	// Reason explains a denial. Empty when allowed.
	Reason string
}

// LimiterStatus is a snapshot of limiter internals.
type LimiterStatus struct {
	Tokens            float64
	Burst             int
	RequestsPerSecond float64
	Limited           bool
	BackoffRemaining  time.Duration
	RequestsInPeriod  int
}

// QuotaStatus reports daily quota consumption. A zero Limit means the
// quota is unlimited and Remaining is not meaningful.
type QuotaStatus struct {
	Limit     int
	Used      int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a token bucket with a daily quota and provider-driven
// backoff, guarding calls to a single provider.
//
// Tokens refill continuously at RequestsPerSecond up to BurstSize. A
// penalty window set by ApplyPenalty blocks all requests until it
// expires. The daily quota resets lazily at local midnight.
type Limiter struct {
	cfg   LimiterConfig
	clock clock.Clock

	mu               sync.Mutex
	tokens           float64
	lastRefill       time.Time
	backoffUntil     time.Time
	requestsInPeriod int
	quotaUsed        int
	quotaResetAt     time.Time
}

// NewLimiter creates a rate limiter with a full bucket.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 5
	}
	if cfg.MaxBackoffDelay <= 0 {
		cfg.MaxBackoffDelay = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	now := cfg.Clock.Now()
	return &Limiter{
		cfg:          cfg,
		clock:        cfg.Clock,
		tokens:       float64(cfg.BurstSize),
		lastRefill:   now,
		quotaResetAt: nextMidnight(now),
	}
}

// Check admits or denies one request. Denials are checked in priority
// order: an active penalty window, then the daily quota, then token
// availability. An allowed verdict consumes exactly one token.
func (l *Limiter) Check() Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rolloverLocked(now)
	l.refillLocked(now)

	if now.Before(l.backoffUntil) {
		return Verdict{
			TokensRemaining: l.tokens,
			WaitTime:        l.backoffUntil.Sub(now),
			Reason:          ReasonBackoff,
		}
	}
	if l.cfg.QuotaPerDay > 0 && l.quotaUsed >= l.cfg.QuotaPerDay {
		return Verdict{
			TokensRemaining: l.tokens,
			WaitTime:        l.quotaResetAt.Sub(now),
			Reason:          ReasonQuota,
		}
	}
	if l.tokens < 1 {
		needed := 1 - l.tokens
		return Verdict{
			TokensRemaining: l.tokens,
			WaitTime:        time.Duration(needed / l.cfg.RequestsPerSecond * float64(time.Second)),
			Reason:          ReasonTokens,
		}
	}

	l.tokens--
	l.quotaUsed++
	l.requestsInPeriod++
	return Verdict{Allowed: true, TokensRemaining: l.tokens}
}

// Wait blocks until a request is admitted or ctx ends. It polls Check,
// sleeping the smaller of the verdict's wait time and one second
// between attempts.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		v := l.Check()
		if v.Allowed {
			return nil
		}
		if err := l.clock.Sleep(ctx, minDuration(v.WaitTime, waitPollCap)); err != nil {
			return err
		}
	}
}

// ApplyPenalty opens a penalty window after a provider signaled rate
// limiting. retryAfter, when positive, is used as the window verbatim;
// otherwise the window doubles with each request made this period,
// capped at MaxBackoffDelay. The penalty also burns up to five tokens.
func (l *Limiter) ApplyPenalty(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.refillLocked(now)

	window := retryAfter
	if window <= 0 {
		window = backoffWindow(l.requestsInPeriod, l.cfg.MaxBackoffDelay)
	}
	l.backoffUntil = now.Add(window)

	burn := math.Min(l.tokens, penaltyBurnTokens)
	l.tokens -= burn
}

// Status returns a snapshot of the limiter after refilling.
func (l *Limiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rolloverLocked(now)
	l.refillLocked(now)

	var backoff time.Duration
	if now.Before(l.backoffUntil) {
		backoff = l.backoffUntil.Sub(now)
	}
	return LimiterStatus{
		Tokens:            l.tokens,
		Burst:             l.cfg.BurstSize,
		RequestsPerSecond: l.cfg.RequestsPerSecond,
		Limited:           backoff > 0,
		BackoffRemaining:  backoff,
		RequestsInPeriod:  l.requestsInPeriod,
	}
}

// Quota returns the current daily quota consumption.
func (l *Limiter) Quota() QuotaStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(l.clock.Now())

	remaining := 0
	if l.cfg.QuotaPerDay > 0 {
		remaining = l.cfg.QuotaPerDay - l.quotaUsed
		if remaining < 0 {
			remaining = 0
		}
	}
	return QuotaStatus{
		Limit:     l.cfg.QuotaPerDay,
		Used:      l.quotaUsed,
		Remaining: remaining,
		ResetAt:   l.quotaResetAt,
	}
}

// Reset refills the bucket and clears penalty and quota state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.tokens = float64(l.cfg.BurstSize)
	l.lastRefill = now
	l.backoffUntil = time.Time{}
	l.requestsInPeriod = 0
	l.quotaUsed = 0
	l.quotaResetAt = nextMidnight(now)
}

// refillLocked adds tokens for elapsed time, capped at the burst size.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	l.lastRefill = now
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed.Seconds() * l.cfg.RequestsPerSecond
	if l.tokens > float64(l.cfg.BurstSize) {
		l.tokens = float64(l.cfg.BurstSize)
	}
}

// rolloverLocked resets quota counters once the day boundary passes.
func (l *Limiter) rolloverLocked(now time.Time) {
	if now.Before(l.quotaResetAt) {
		return
	}
	l.quotaUsed = 0
	l.requestsInPeriod = 0
	l.quotaResetAt = nextMidnight(now)
}

// backoffWindow computes an exponential penalty window from request
// volume, capped at maxDelay.
func backoffWindow(requestsInPeriod int, maxDelay time.Duration) time.Duration {
	// Past 2^30 seconds the cap always wins; clamp before Pow overflows.
	exp := requestsInPeriod
	if exp > 30 {
		exp = 30
	}
	window := time.Duration(math.Pow(2, float64(exp)) * float64(time.Second))
	if window <= 0 || window > maxDelay {
		return maxDelay
	}
	return window
}

// nextMidnight returns the start of the next calendar day in t's
// location.
func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
