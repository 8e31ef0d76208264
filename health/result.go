package health

import (
	"context"
	"time"

	"github.com/jonwraymond/visionops/fault"
)

// Status represents the health status of a provider.
type Status int

const (
	// StatusHealthy indicates the provider is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates the provider is usable but impaired.
	StatusDegraded
	// StatusUnhealthy indicates the provider is not usable.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Details breaks a probe outcome into the three aspects the status rule
// cares about.
type Details struct {
	// Authenticated reports whether the provider accepted our credentials.
	Authenticated bool

	// Connected reports whether the provider was reachable at all.
	Connected bool

	// EndpointAvailable reports whether the probed endpoint answered.
	EndpointAvailable bool
}

// Result contains the outcome of one provider health check.
type Result struct {
	// Status is the evaluated health status.
	Status Status

	// Provider is the provider this result describes.
	Provider string

	// Message summarizes the outcome for humans.
	Message string

	// ResponseTime is how long the probe took.
	ResponseTime time.Duration

	// Timestamp is when the check started.
	Timestamp time.Time

	// Details holds the per-aspect flags behind the status.
	Details Details

	// Err is the probe error, if any.
	Err error
}

// Prober is a provider's lightweight health probe. A nil return means the
// provider is reachable, our credentials are accepted, and the probed
// endpoint answers. On failure, the error's fault kind drives the detail
// flags: auth errors clear Authenticated, network and timeout errors clear
// Connected, and everything else clears EndpointAvailable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

var _ Prober = (ProberFunc)(nil)

// deriveDetails maps a probe error to detail flags by fault kind.
func deriveDetails(err error) Details {
	d := Details{Authenticated: true, Connected: true, EndpointAvailable: true}
	if err == nil {
		return d
	}
	switch fault.KindOf(err) {
	case fault.KindAuth:
		d.Authenticated = false
	case fault.KindNetwork, fault.KindTimeout:
		d.Connected = false
	case fault.KindServer, fault.KindClient:
		d.EndpointAvailable = false
	default:
		// Unclassified probe failures make the provider unusable until
		// a later check says otherwise.
		d.EndpointAvailable = false
	}
	return d
}
