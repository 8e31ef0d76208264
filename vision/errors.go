package vision

import "errors"

var (
	// ErrNoProviders is returned when a call arrives with no providers
	// registered.
	ErrNoProviders = errors.New("vision: no providers registered")

	// ErrProviderNotFound is returned when a call names a provider that
	// is not registered.
	ErrProviderNotFound = errors.New("vision: provider not found")
)
