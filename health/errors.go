package health

import "errors"

var (
	// ErrProbeTimeout indicates a provider probe did not complete in time.
	ErrProbeTimeout = errors.New("health: probe timed out")

	// ErrProviderNotFound indicates the named provider is not registered.
	ErrProviderNotFound = errors.New("health: provider not found")
)
