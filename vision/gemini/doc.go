// Package gemini adapts Google's Gemini API to the vision.Provider
// interface.
//
// The adapter is deliberately thin: it shapes requests, parses the
// model's JSON replies, and tags every SDK error with a fault kind.
// Retries, rate limiting, caching, and telemetry belong to the layers
// above it.
package gemini
