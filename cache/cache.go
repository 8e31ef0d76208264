package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength bounds cache keys. Derived keys are short (a fixed prefix,
// provider, operation, and a 16-character digest), so the limit only
// matters for callers that bring their own keys.
const MaxKeyLength = 512

// Key validation errors.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Cache stores serialized provider responses under derived keys.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get never errors; a miss, an expired entry, and an absent
//   entry all return (nil, false).
// - TTL: Set with ttl <= 0 stores nothing and returns nil.
type Cache interface {
	// Get retrieves a cached response. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a response for ttl. Keys must pass ValidateKey.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a cached response. Idempotent, no error on miss.
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects keys that are blank, longer than MaxKeyLength, or
// contain line breaks. Keys produced by DefaultKeyer always pass.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return ErrInvalidKey
	case strings.ContainsAny(key, "\n\r"):
		return ErrInvalidKey
	case len(key) > MaxKeyLength:
		return ErrKeyTooLong
	}
	return nil
}
