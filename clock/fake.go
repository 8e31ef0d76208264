package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
//
// Time only moves when Advance is called. Sleepers whose deadlines are
// reached are released in deadline order, and fake tickers fire once per
// elapsed interval. BlockUntil lets a test wait for goroutines to reach
// their Sleep calls before advancing.
type Fake struct {
	mu       sync.Mutex
	now      time.Time
	sleepers []*fakeSleeper
	tickers  []*fakeTicker
	blockers []*blocker
}

type fakeSleeper struct {
	deadline time.Time
	done     chan struct{}
}

type blocker struct {
	count int
	ch    chan struct{}
}

// NewFake returns a Fake starting at the Go reference time.
func NewFake() *Fake {
	return NewFakeAt(time.Date(2006, time.January, 2, 15, 4, 5, 0, time.UTC))
}

// NewFakeAt returns a Fake starting at t.
func NewFakeAt(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep blocks until Advance moves time past the deadline or ctx is done.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	f.mu.Lock()
	s := &fakeSleeper{deadline: f.now.Add(d), done: make(chan struct{})}
	f.sleepers = append(f.sleepers, s)
	f.notifyBlockersLocked()
	f.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		f.removeSleeper(s)
		return ctx.Err()
	}
}

// NewTicker returns a ticker driven by Advance.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{
		fake:     f,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     f.now.Add(d),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves time forward by d, releasing due sleepers in deadline
// order and firing due tickers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	sort.Slice(f.sleepers, func(i, j int) bool {
		return f.sleepers[i].deadline.Before(f.sleepers[j].deadline)
	})

	remaining := f.sleepers[:0]
	for _, s := range f.sleepers {
		if !s.deadline.After(f.now) {
			close(s.done)
		} else {
			remaining = append(remaining, s)
		}
	}
	f.sleepers = remaining

	for _, t := range f.tickers {
		t.fireLocked(f.now)
	}
}

// BlockUntil blocks until at least n goroutines are waiting in Sleep.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	if len(f.sleepers) >= n {
		f.mu.Unlock()
		return
	}
	b := &blocker{count: n, ch: make(chan struct{})}
	f.blockers = append(f.blockers, b)
	f.mu.Unlock()

	<-b.ch
}

// Sleepers returns the number of goroutines currently blocked in Sleep.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sleepers)
}

func (f *Fake) notifyBlockersLocked() {
	remaining := f.blockers[:0]
	for _, b := range f.blockers {
		if len(f.sleepers) >= b.count {
			close(b.ch)
		} else {
			remaining = append(remaining, b)
		}
	}
	f.blockers = remaining
}

func (f *Fake) removeSleeper(s *fakeSleeper) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, cur := range f.sleepers {
		if cur == s {
			f.sleepers = append(f.sleepers[:i], f.sleepers[i+1:]...)
			return
		}
	}
}

type fakeTicker struct {
	fake     *Fake
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

// fireLocked delivers one tick per elapsed interval. Must be called with
// the fake's mutex held.
func (t *fakeTicker) fireLocked(now time.Time) {
	if t.stopped || t.interval <= 0 {
		return
	}
	for !t.next.After(now) {
		select {
		case t.ch <- t.next:
		default:
			// Slow receiver, drop the tick like time.Ticker does.
		}
		t.next = t.next.Add(t.interval)
	}
}

func (t *fakeTicker) Chan() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	t.stopped = true
}

var (
	_ Clock  = (*Fake)(nil)
	_ Ticker = (*fakeTicker)(nil)
)
