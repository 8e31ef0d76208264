package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/visionops/clock"
	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/observe"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means calls flow through normally.
	StateClosed State = iota
	// StateOpen means calls are rejected without reaching the provider.
	StateOpen
	// StateHalfOpen means a limited probe is testing provider recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// responseWindowSize bounds the response time samples kept per breaker.
const responseWindowSize = 100

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit from closed.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open that
	// closes the circuit.
	// Default: 2
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before the next
	// call is allowed to probe.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// TrackErrorTypes records a per-kind failure count in Stats.
	TrackErrorTypes bool

	// CriticalKinds lists error kinds that open the circuit on the first
	// failure, regardless of the failure threshold.
	CriticalKinds []fault.Kind

	// OnStateChange is called on every transition. It runs while the
	// breaker lock is held, so it must not call back into the breaker.
	OnStateChange func(from, to State)

	// Clock is the time source for reset timeouts.
	// Default: clock.System()
	Clock clock.Clock

	// Logger records state changes and persistence problems.
	// Default: observe.NopLogger()
	Logger observe.Logger

	// Store persists breaker state across restarts. Nil disables
	// persistence.
	Store BreakerStore
}

// Decision is the outcome of asking the breaker whether a call may proceed.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool
	// State is the breaker state at decision time.
	State State
	// Reason explains the decision in log-friendly terms.
	Reason string
	// WaitTime is how long until the next probe is allowed. Zero unless
	// the circuit is open.
	WaitTime time.Duration
}

// BreakerStats is a snapshot of breaker counters.
type BreakerStats struct {
	State               State
	FailureCount        int
	SuccessCount        int
	TotalRequests       int
	LastFailureTime     time.Time
	LastSuccessTime     time.Time
	LastStateChange     time.Time
	ErrorCounts         map[string]int
	AverageResponseTime time.Duration
	WindowSize          int
}

// Breaker is a circuit breaker guarding calls to a single provider.
//
// Callers ask CanExecute before a call and report the outcome with
// RecordSuccess or RecordFailure. The breaker opens after
// FailureThreshold consecutive failures (or one failure of a critical
// kind), rejects calls for ResetTimeout, then lets probes through in
// half-open until SuccessThreshold successes close it again.
type Breaker struct {
	cfg    BreakerConfig
	clock  clock.Clock
	logger observe.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	totalRequests   int
	lastFailureTime time.Time
	lastSuccessTime time.Time
	lastStateChange time.Time
	errorCounts     map[string]int
	window          []time.Duration
	windowNext      int
}

// NewBreaker creates a circuit breaker. If cfg.Store is set, previously
// persisted state is restored; a missing or malformed store falls back
// to the closed state with a warning.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	b := &Breaker{
		cfg:         cfg,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		state:       StateClosed,
		errorCounts: make(map[string]int),
	}
	b.restore()
	return b
}

// CanExecute reports whether a call may proceed. When the circuit is
// open, the decision carries the time remaining until the next probe.
// Once the reset timeout has elapsed the breaker moves to half-open and
// the call is allowed.
func (b *Breaker) CanExecute() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.currentStateLocked(now) {
	case StateOpen:
		return Decision{
			Allowed:  false,
			State:    StateOpen,
			Reason:   "circuit open",
			WaitTime: b.cfg.ResetTimeout - now.Sub(b.lastStateChange),
		}
	case StateHalfOpen:
		return Decision{Allowed: true, State: StateHalfOpen, Reason: "probing recovery"}
	default:
		return Decision{Allowed: true, State: StateClosed, Reason: "circuit closed"}
	}
}

// RecordSuccess reports a successful call and its response time.
func (b *Breaker) RecordSuccess(responseTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.totalRequests++
	b.successCount++
	b.lastSuccessTime = now
	b.observeLocked(responseTime)

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed, now)
		}
	}
	b.persistLocked()
}

// RecordFailure reports a failed call and its response time. A failure
// of a critical kind opens the circuit immediately; otherwise the
// circuit opens once the failure threshold is reached. Any failure in
// half-open reopens the circuit.
func (b *Breaker) RecordFailure(err error, responseTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.totalRequests++
	b.failureCount++
	b.lastFailureTime = now
	b.observeLocked(responseTime)
	if b.cfg.TrackErrorTypes {
		b.errorCounts[fault.KindOf(err).String()]++
	}

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold || b.isCritical(err) {
			b.transitionLocked(StateOpen, now)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen, now)
	}
	b.persistLocked()
}

// State returns the current state, applying the open-to-half-open
// transition if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked(b.clock.Now())
}

// Stats returns a snapshot of breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentStateLocked(b.clock.Now())
	counts := make(map[string]int, len(b.errorCounts))
	for k, v := range b.errorCounts {
		counts[k] = v
	}
	return BreakerStats{
		State:               state,
		FailureCount:        b.failureCount,
		SuccessCount:        b.successCount,
		TotalRequests:       b.totalRequests,
		LastFailureTime:     b.lastFailureTime,
		LastSuccessTime:     b.lastSuccessTime,
		LastStateChange:     b.lastStateChange,
		ErrorCounts:         counts,
		AverageResponseTime: b.averageLocked(),
		WindowSize:          len(b.window),
	}
}

// Reset returns the breaker to the closed state and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(StateClosed, b.clock.Now())
	b.failureCount = 0
	b.successCount = 0
	b.totalRequests = 0
	b.lastFailureTime = time.Time{}
	b.lastSuccessTime = time.Time{}
	b.errorCounts = make(map[string]int)
	b.window = nil
	b.windowNext = 0
	b.persistLocked()
}

// currentStateLocked applies the lazy open-to-half-open transition.
func (b *Breaker) currentStateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.lastStateChange) >= b.cfg.ResetTimeout {
		b.transitionLocked(StateHalfOpen, now)
		b.persistLocked()
	}
	return b.state
}

func (b *Breaker) transitionLocked(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = now
	switch to {
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	case StateOpen, StateHalfOpen:
		b.successCount = 0
	}

	b.logger.Info(context.Background(), "circuit state changed",
		observe.Field{Key: "from", Value: from.String()},
		observe.Field{Key: "to", Value: to.String()})
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

func (b *Breaker) isCritical(err error) bool {
	kind := fault.KindOf(err)
	for _, critical := range b.cfg.CriticalKinds {
		if kind == critical {
			return true
		}
	}
	return false
}

// observeLocked records a response time sample in the bounded window.
func (b *Breaker) observeLocked(responseTime time.Duration) {
	if responseTime < 0 {
		responseTime = 0
	}
	if len(b.window) < responseWindowSize {
		b.window = append(b.window, responseTime)
		return
	}
	b.window[b.windowNext] = responseTime
	b.windowNext = (b.windowNext + 1) % responseWindowSize
}

func (b *Breaker) averageLocked() time.Duration {
	if len(b.window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, rt := range b.window {
		sum += rt
	}
	return sum / time.Duration(len(b.window))
}

// restore loads persisted state. Failures fall back to closed.
func (b *Breaker) restore() {
	if b.cfg.Store == nil {
		return
	}
	persisted, err := b.cfg.Store.Load()
	if err != nil {
		b.logger.Warn(context.Background(), "breaker state load failed, starting closed",
			observe.Field{Key: "error", Value: err.Error()})
		return
	}
	state, err := ParseState(persisted.State)
	if err != nil {
		b.logger.Warn(context.Background(), "breaker state malformed, starting closed",
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	b.state = state
	b.failureCount = persisted.FailureCount
	b.successCount = persisted.SuccessCount
	b.totalRequests = persisted.TotalRequests
	b.lastFailureTime = persisted.LastFailureTime
	b.lastSuccessTime = persisted.LastSuccessTime
	b.lastStateChange = persisted.LastStateChange
	for kind, count := range persisted.ErrorCounts {
		b.errorCounts[kind] = count
	}
	for _, ms := range persisted.Performance {
		b.observeLocked(time.Duration(ms) * time.Millisecond)
	}
}

// persistLocked saves a snapshot to the store. Save errors are logged
// and swallowed so persistence never fails a call.
func (b *Breaker) persistLocked() {
	if b.cfg.Store == nil {
		return
	}
	snapshot := &PersistedState{
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		TotalRequests:   b.totalRequests,
		LastFailureTime: b.lastFailureTime,
		LastSuccessTime: b.lastSuccessTime,
		LastStateChange: b.lastStateChange,
	}
	if len(b.errorCounts) > 0 {
		snapshot.ErrorCounts = make(map[string]int, len(b.errorCounts))
		for k, v := range b.errorCounts {
			snapshot.ErrorCounts[k] = v
		}
	}
	if len(b.window) > 0 {
		snapshot.Performance = make([]int64, 0, len(b.window))
		for _, rt := range b.window {
			snapshot.Performance = append(snapshot.Performance, rt.Milliseconds())
		}
	}
	if err := b.cfg.Store.Save(snapshot); err != nil {
		b.logger.Warn(context.Background(), "breaker state save failed",
			observe.Field{Key: "error", Value: err.Error()})
	}
}
