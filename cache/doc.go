// Package cache keeps provider responses so identical vision requests
// within a TTL are served without another paid provider call.
//
// ResponseCache wraps a call site, DefaultKeyer derives deterministic
// keys from {provider, operation, model, prompt, image digests}, and
// MemoryCache stores the bytes with lazy expiry and an optional entry
// bound. Policy decides the TTLs.
package cache
