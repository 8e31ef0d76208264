package cache

import (
	"context"
)

// ExecuteFunc is a provider call whose response can be cached. The
// closure carries the request; the middleware only needs the bytes back.
type ExecuteFunc func(ctx context.Context) ([]byte, error)

// ResponseCache wraps provider calls with response caching. Vision
// analysis is pay-per-call and deterministic enough for identical
// requests that a repeat within the TTL should not reach the provider.
type ResponseCache struct {
	cache  Cache
	keyer  Keyer
	policy Policy
}

// NewResponseCache creates the caching middleware. A nil keyer means
// DefaultKeyer; a nil cache makes Execute call straight through.
func NewResponseCache(cache Cache, keyer Keyer, policy Policy) *ResponseCache {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &ResponseCache{
		cache:  cache,
		keyer:  keyer,
		policy: policy,
	}
}

// Execute runs the provider call with caching. A hit returns the cached
// bytes without invoking fn; a miss invokes fn and stores the result for
// the policy's TTL. Errors are never cached. Key derivation failures
// fall through to direct execution rather than failing the call.
func (r *ResponseCache) Execute(
	ctx context.Context,
	provider, operation string,
	input any,
	fn ExecuteFunc,
) ([]byte, error) {
	if r.cache == nil || !r.policy.ShouldCache() {
		return fn(ctx)
	}

	key, err := r.keyer.Key(provider, operation, input)
	if err != nil {
		return fn(ctx)
	}

	if cached, ok := r.cache.Get(ctx, key); ok {
		return cached, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return result, err
	}

	if ttl := r.policy.EffectiveTTL(0); ttl > 0 {
		_ = r.cache.Set(ctx, key, result, ttl)
	}
	return result, nil
}

// Invalidate removes the cached response for a request, if present.
func (r *ResponseCache) Invalidate(ctx context.Context, provider, operation string, input any) error {
	if r.cache == nil {
		return nil
	}
	key, err := r.keyer.Key(provider, operation, input)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, key)
}
