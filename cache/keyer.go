package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer derives cache keys from vision request parameters.
//
// Contract:
// - Determinism: equal inputs must produce equal keys across processes.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key derives a cache key for one provider operation. The input is
	// the request tuple that decides the response, typically
	// {model, prompt, image digests}.
	Key(provider, operation string, input any) (string, error)
}

// DefaultKeyer derives keys of the form
//
//	vision:<provider>:<operation>:<digest16>
//
// where digest16 is the first 16 hex characters of the SHA-256 of the
// JSON-encoded input. Request tuples are fixed-shape structs of strings,
// and encoding/json sorts map keys, so the encoding is deterministic
// without further canonicalization.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the standard keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key derives the cache key for one request.
func (k *DefaultKeyer) Key(provider, operation string, input any) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("cache: encode request for keying: %w", err)
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("vision:%s:%s:%s", provider, operation, hex.EncodeToString(sum[:8])), nil
}

var _ Keyer = (*DefaultKeyer)(nil)
