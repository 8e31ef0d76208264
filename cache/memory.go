package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/visionops/clock"
)

// MemoryCache keeps responses in a map guarded by an RWMutex. Expired
// entries are swept lazily when a Get finds them; when the policy's
// MaxEntries is reached, inserting evicts the entry closest to expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	policy  Policy
	clk     clock.Clock
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock swaps the time source used for expiry.
func WithClock(c clock.Clock) MemoryOption {
	return func(m *MemoryCache) {
		if c != nil {
			m.clk = c
		}
	}
}

// NewMemoryCache creates an in-memory response cache honoring the policy.
func NewMemoryCache(policy Policy, opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		policy:  policy,
		clk:     clock.System(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get retrieves a cached response. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.clk.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock: a concurrent Set may have
		// replaced the entry with a fresh one.
		if cur, ok := c.entries[key]; ok && c.clk.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores a response for ttl. A ttl <= 0 stores nothing.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.policy.MaxEntries > 0 && len(c.entries) >= c.policy.MaxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictSoonestLocked()
		}
	}
	c.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: c.clk.Now().Add(ttl),
	}
	return nil
}

// Delete removes a cached response. Idempotent, no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries currently held, including any that
// have expired but not yet been swept by a Get.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictSoonestLocked removes the entry closest to expiry. A linear scan
// is fine at the entry counts MaxEntries is meant for.
func (c *MemoryCache) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

var _ Cache = (*MemoryCache)(nil)
