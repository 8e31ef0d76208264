package vision

import "context"

// Provider is a vision backend.
//
// Contract:
//   - Errors: every error is tagged with a fault kind at this boundary,
//     so the classifier, circuit breaker, and provider fallback can
//     route on it.
//   - Results: a nil error guarantees a non-nil result.
//   - Concurrency: implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider, e.g. "gemini".
	Name() string

	// AnalyzeImage describes a single image.
	AnalyzeImage(ctx context.Context, req *AnalysisRequest) (*Analysis, error)

	// CompareImages contrasts two images.
	CompareImages(ctx context.Context, req *CompareRequest) (*Comparison, error)

	// UploadFile pushes a local file to the provider's file store.
	UploadFile(ctx context.Context, path string) (*Upload, error)

	// HealthCheck verifies the provider is reachable and authenticated.
	HealthCheck(ctx context.Context) error
}
