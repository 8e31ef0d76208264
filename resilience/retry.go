package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonwraymond/visionops/clock"
	"github.com/jonwraymond/visionops/fault"
)

// Default retryability tables, used when the config leaves them nil.
var (
	defaultRetryableKinds = []fault.Kind{
		fault.KindNetwork,
		fault.KindTimeout,
		fault.KindRateLimit,
		fault.KindServer,
		fault.KindStorage,
	}

	defaultRetryablePhrases = []string{
		"timeout",
		"rate limit",
		"service unavailable",
		"connection reset",
		"temporarily unavailable",
		"too many requests",
		"network",
	}

	defaultRetryableStatusCodes = []int{408, 429, 500, 502, 503, 504}
)

// statusPattern extracts a three-digit HTTP status embedded in an error
// message from a provider SDK that does not expose structured errors.
var statusPattern = regexp.MustCompile(`\b([0-9]{3})\b`)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 10% randomness to each delay.
	// DefaultRetryConfig enables it.
	Jitter bool

	// RetryableKinds lists error kinds worth retrying.
	// Default: network, timeout, rate limit, server, storage.
	RetryableKinds []fault.Kind

	// RetryablePhrases lists message substrings that mark an unclassified
	// error as transient. Matching is case-insensitive.
	RetryablePhrases []string

	// RetryableStatusCodes lists HTTP statuses worth retrying.
	// Default: 408, 429, 500, 502, 503, 504.
	RetryableStatusCodes []int

	// RetryOnNetworkErrors retries operating system level network
	// failures. DefaultRetryConfig enables it.
	RetryOnNetworkErrors bool

	// OnRetry is called before each sleep, with the attempt that just
	// failed, its error, and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Clock is the time source for delays.
	// Default: clock.System()
	Clock clock.Clock

	// Rand supplies jitter in [0, 1).
	// Default: math/rand/v2.
	Rand func() float64
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          3,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		Multiplier:           2.0,
		Jitter:               true,
		RetryOnNetworkErrors: true,
	}
}

// CriticalRetryConfig returns a patient policy for operations that must
// succeed, such as billed analysis calls already past admission control.
func CriticalRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 5
	cfg.BaseDelay = 2 * time.Second
	return cfg
}

// NonCriticalRetryConfig returns an impatient policy for cheap
// operations such as health probes.
func NonCriticalRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 2
	cfg.BaseDelay = 500 * time.Millisecond
	return cfg
}

// RetryResult reports how an operation concluded.
type RetryResult struct {
	// Attempts is how many times the operation ran.
	Attempts int
	// Elapsed is the total time spent, including sleeps.
	Elapsed time.Duration
	// Retried reports whether more than one attempt was made.
	Retried bool
}

// RetryError aggregates every attempt's failure. It unwraps to all of
// them, so errors.Is and errors.As see each attempt.
type RetryError struct {
	Attempts int
	Elapsed  time.Duration
	Errs     []error
}

func (e *RetryError) Error() string {
	last := "no attempts made"
	if len(e.Errs) > 0 {
		last = e.Errs[len(e.Errs)-1].Error()
	}
	if e.Attempts == 1 {
		return fmt.Sprintf("resilience: operation failed after 1 attempt: %s", last)
	}
	return fmt.Sprintf("resilience: operation failed after %d attempts: %s", e.Attempts, last)
}

// Unwrap exposes every attempt's error to errors.Is and errors.As.
func (e *RetryError) Unwrap() []error {
	return e.Errs
}

// Retryer runs operations with exponential backoff between attempts.
type Retryer struct {
	cfg   RetryConfig
	clock clock.Clock
	rand  func() float64
}

// NewRetryer creates a retryer. Zero numeric fields and nil tables get
// defaults; boolean fields are taken as given, so start from
// DefaultRetryConfig for the standard policy.
func NewRetryer(cfg RetryConfig) *Retryer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.RetryableKinds == nil {
		cfg.RetryableKinds = defaultRetryableKinds
	}
	if cfg.RetryablePhrases == nil {
		cfg.RetryablePhrases = defaultRetryablePhrases
	}
	if cfg.RetryableStatusCodes == nil {
		cfg.RetryableStatusCodes = defaultRetryableStatusCodes
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Rand == nil {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		cfg.Rand = rand.Float64
	}

	return &Retryer{cfg: cfg, clock: cfg.Clock, rand: cfg.Rand}
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// exhausts MaxAttempts. The result reports attempt counts even when op
// ultimately failed. On failure the returned error is a *RetryError
// holding every attempt's error; if ctx ends during a sleep, its error
// is appended and the retryer stops.
func (r *Retryer) Do(ctx context.Context, op func(context.Context) error) (RetryResult, error) {
	start := r.clock.Now()
	var errs []error
	attempts := 0

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		err := op(ctx)
		if err == nil {
			return RetryResult{
				Attempts: attempt,
				Elapsed:  r.clock.Now().Sub(start),
				Retried:  attempt > 1,
			}, nil
		}
		errs = append(errs, err)

		if !r.retryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt, err, delay)
		}
		if sleepErr := r.clock.Sleep(ctx, delay); sleepErr != nil {
			errs = append(errs, sleepErr)
			break
		}
	}

	elapsed := r.clock.Now().Sub(start)
	result := RetryResult{Attempts: attempts, Elapsed: elapsed, Retried: attempts > 1}
	return result, &RetryError{Attempts: attempts, Elapsed: elapsed, Errs: errs}
}

// retryable classifies an error, checking the structured kind first,
// then transient phrases, then embedded HTTP statuses, then operating
// system network failures.
func (r *Retryer) retryable(err error) bool {
	kind := fault.KindOf(err)
	for _, k := range r.cfg.RetryableKinds {
		if kind == k {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range r.cfg.RetryablePhrases {
		if strings.Contains(msg, strings.ToLower(phrase)) {
			return true
		}
	}

	if status := fault.StatusOf(err); status > 0 && r.retryableStatus(status) {
		return true
	}
	for _, match := range statusPattern.FindAllString(msg, -1) {
		if status, convErr := strconv.Atoi(match); convErr == nil && r.retryableStatus(status) {
			return true
		}
	}

	return r.cfg.RetryOnNetworkErrors && isNetworkError(err)
}

func (r *Retryer) retryableStatus(status int) bool {
	for _, code := range r.cfg.RetryableStatusCodes {
		if status == code {
			return true
		}
	}
	return false
}

// delay computes the backoff before the retry following attempt.
func (r *Retryer) delay(attempt int) time.Duration {
	backoff := float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	if r.cfg.Jitter {
		delay += time.Duration(r.rand() * 0.1 * float64(delay))
	}
	return delay
}

// isNetworkError reports whether err is an operating system level
// network failure.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}
