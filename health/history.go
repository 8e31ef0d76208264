package health

import (
	"sync"
	"time"
)

// defaultHistoryCapacity bounds how many results a provider's history keeps.
const defaultHistoryCapacity = 100

// Performance summarizes a provider's recent check results.
type Performance struct {
	// AverageResponseTime is the mean probe time over the stored results.
	AverageResponseTime time.Duration

	// SuccessRate is the fraction of stored results that were healthy,
	// in [0, 1].
	SuccessRate float64

	// ConsecutiveFailures counts non-healthy results from the most recent
	// backward until a healthy one.
	ConsecutiveFailures int
}

// History is a bounded ring of check results for one provider. Rolling
// performance is recomputed on every append.
type History struct {
	mu      sync.RWMutex
	results []Result
	next    int
	perf    Performance
}

// NewHistory creates a history holding up to capacity results. A
// non-positive capacity gets the default of 100.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	return &History{results: make([]Result, 0, capacity)}
}

// Add appends a result, evicting the oldest once at capacity.
func (h *History) Add(result Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.results) < cap(h.results) {
		h.results = append(h.results, result)
	} else {
		h.results[h.next] = result
		h.next = (h.next + 1) % cap(h.results)
	}
	h.perf = h.recomputeLocked()
}

// Len returns how many results are stored.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.results)
}

// All returns the stored results in chronological order.
func (h *History) All() []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.orderedLocked()
}

// Last returns the n most recent results in chronological order. It
// returns fewer when the history holds fewer.
func (h *History) Last(n int) []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	ordered := h.orderedLocked()
	if n >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Performance returns the rolling performance over the stored results.
func (h *History) Performance() Performance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.perf
}

// orderedLocked copies the ring out oldest-first.
func (h *History) orderedLocked() []Result {
	ordered := make([]Result, 0, len(h.results))
	if len(h.results) < cap(h.results) {
		return append(ordered, h.results...)
	}
	ordered = append(ordered, h.results[h.next:]...)
	return append(ordered, h.results[:h.next]...)
}

func (h *History) recomputeLocked() Performance {
	ordered := h.orderedLocked()
	if len(ordered) == 0 {
		return Performance{}
	}

	var total time.Duration
	healthy := 0
	for _, r := range ordered {
		total += r.ResponseTime
		if r.Status == StatusHealthy {
			healthy++
		}
	}

	consecutive := 0
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].Status == StatusHealthy {
			break
		}
		consecutive++
	}

	return Performance{
		AverageResponseTime: total / time.Duration(len(ordered)),
		SuccessRate:         float64(healthy) / float64(len(ordered)),
		ConsecutiveFailures: consecutive,
	}
}
