package cache

import "time"

// Policy decides whether and for how long provider responses are kept.
type Policy struct {
	// DefaultTTL is how long a response is served before the provider is
	// asked again. Zero disables caching.
	DefaultTTL time.Duration

	// MaxTTL caps every TTL, including overrides. Zero means no cap.
	MaxTTL time.Duration

	// MaxEntries bounds how many responses a cache holds at once; when
	// full, the entry closest to expiry is evicted. Zero means unbounded.
	MaxEntries int
}

// DefaultPolicy keeps responses for 5 minutes, never longer than an
// hour, and holds at most 512 of them.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     1 * time.Hour,
		MaxEntries: 512,
	}
}

// NoCachePolicy disables caching: every request reaches the provider.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache reports whether this policy caches at all.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL resolves the TTL for one entry: the override when
// positive, the default otherwise, clamped to MaxTTL.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
