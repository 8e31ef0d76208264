package resilience

import "sync"

// LimiterGroup holds one rate limiter per provider, preserving
// registration order for deterministic selection.
type LimiterGroup struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	order    []string
}

// NewLimiterGroup creates an empty limiter group.
func NewLimiterGroup() *LimiterGroup {
	return &LimiterGroup{limiters: make(map[string]*Limiter)}
}

// Register creates a limiter for the named provider. Registering an
// existing name replaces the limiter but keeps its position in the
// registration order.
func (g *LimiterGroup) Register(name string, cfg LimiterConfig) *Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter := NewLimiter(cfg)
	if _, exists := g.limiters[name]; !exists {
		g.order = append(g.order, name)
	}
	g.limiters[name] = limiter
	return limiter
}

// Add attaches an existing limiter under the named provider, so a
// limiter already wired into a pipeline can also be tracked by the
// group. Adding an existing name replaces the limiter but keeps its
// position in the registration order.
func (g *LimiterGroup) Add(name string, limiter *Limiter) {
	if limiter == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.limiters[name]; !exists {
		g.order = append(g.order, name)
	}
	g.limiters[name] = limiter
}

// Get returns the limiter for the named provider.
func (g *LimiterGroup) Get(name string) (*Limiter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	limiter, ok := g.limiters[name]
	return limiter, ok
}

// Remove deletes the named provider's limiter.
func (g *LimiterGroup) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.limiters[name]; !exists {
		return
	}
	delete(g.limiters, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Names returns provider names in registration order.
func (g *LimiterGroup) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// ResetAll resets every registered limiter.
func (g *LimiterGroup) ResetAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, limiter := range g.limiters {
		limiter.Reset()
	}
}

// BestProvider returns the provider with the most available tokens
// among those not in a penalty window and with daily quota remaining.
// Earlier registration wins ties. Returns the empty string when no
// provider qualifies.
func (g *LimiterGroup) BestProvider() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	best := ""
	bestTokens := -1.0
	for _, name := range g.order {
		limiter := g.limiters[name]
		status := limiter.Status()
		if status.Limited {
			continue
		}
		if quota := limiter.Quota(); quota.Limit > 0 && quota.Remaining == 0 {
			continue
		}
		if status.Tokens > bestTokens {
			best = name
			bestTokens = status.Tokens
		}
	}
	return best
}

// BreakerGroup holds one circuit breaker per provider, preserving
// registration order.
type BreakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	order    []string
}

// NewBreakerGroup creates an empty breaker group.
func NewBreakerGroup() *BreakerGroup {
	return &BreakerGroup{breakers: make(map[string]*Breaker)}
}

// Register creates a breaker for the named provider. Registering an
// existing name replaces the breaker but keeps its position in the
// registration order.
func (g *BreakerGroup) Register(name string, cfg BreakerConfig) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	breaker := NewBreaker(cfg)
	if _, exists := g.breakers[name]; !exists {
		g.order = append(g.order, name)
	}
	g.breakers[name] = breaker
	return breaker
}

// Get returns the breaker for the named provider.
func (g *BreakerGroup) Get(name string) (*Breaker, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	breaker, ok := g.breakers[name]
	return breaker, ok
}

// Remove deletes the named provider's breaker.
func (g *BreakerGroup) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.breakers[name]; !exists {
		return
	}
	delete(g.breakers, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Names returns provider names in registration order.
func (g *BreakerGroup) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// ResetAll resets every registered breaker.
func (g *BreakerGroup) ResetAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, breaker := range g.breakers {
		breaker.Reset()
	}
}
