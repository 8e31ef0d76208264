package observe

import "errors"

var (
	// ErrMissingServiceName reports an empty Config.ServiceName.
	ErrMissingServiceName = errors.New("observe: service name is required")

	// ErrMissingProvider reports an empty CallMeta.Provider.
	ErrMissingProvider = errors.New("observe: provider name is required")

	// ErrMissingOperation reports an empty CallMeta.Operation.
	ErrMissingOperation = errors.New("observe: operation name is required")
)
