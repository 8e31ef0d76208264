package fault

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of error classifications. Every provider error is
// tagged with exactly one Kind; downstream policy (retry, breaker, limiter)
// branches on the Kind, never on message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindRateLimit
	KindServer
	KindClient
	KindAuth
	KindValidation
	KindStorage
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ParseKind parses a string kind name. Unrecognized names map to KindUnknown.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "network":
		return KindNetwork
	case "timeout":
		return KindTimeout
	case "rate_limit":
		return KindRateLimit
	case "server":
		return KindServer
	case "client":
		return KindClient
	case "auth", "authentication":
		return KindAuth
	case "validation":
		return KindValidation
	case "storage":
		return KindStorage
	case "config":
		return KindConfig
	default:
		return KindUnknown
	}
}

// Error is a classified provider error with structured fields.
//
// Contract:
// - Ownership: immutable after construction; With* methods return the
//   receiver for chaining during construction only.
// - Errors: implements error and Unwrap for errors.Is/As chains.
type Error struct {
	Kind       Kind          // Classification, drives all policy decisions
	Provider   string        // Provider that produced the error (may be empty)
	Op         string        // Operation in flight (may be empty)
	Message    string        // Human-readable description
	StatusCode int           // Carried HTTP status, 0 when none
	RetryAfter time.Duration // Server-provided backoff hint, 0 when none
	Err        error         // Wrapped cause (may be nil)
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches classified errors by Kind, so a bare probe like
// &Error{Kind: KindAuth} matches every auth fault via errors.Is. A probe
// with Provider or Op set narrows the match to those fields too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Provider != "" && e.Provider != t.Provider {
		return false
	}
	if t.Op != "" && e.Op != t.Op {
		return false
	}
	return true
}

// New creates a classified error with a message.
func New(kind Kind, provider, op, message string) *Error {
	return &Error{
		Kind:     kind,
		Provider: provider,
		Op:       op,
		Message:  message,
	}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, provider, op string, err error) *Error {
	return &Error{
		Kind:     kind,
		Provider: provider,
		Op:       op,
		Err:      err,
	}
}

// WithStatus attaches a carried HTTP status code.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// WithRetryAfter attaches a server-provided backoff hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithMessage attaches a human-readable description.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// KindOf returns the Kind of the first classified error in err's chain,
// or KindUnknown when none is found.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains a classified error of kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// StatusOf returns the carried HTTP status of the first classified error in
// err's chain, or 0 when none is found.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// RetryAfterOf returns the server-provided backoff hint of the first
// classified error in err's chain.
func RetryAfterOf(err error) (time.Duration, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return fe.RetryAfter, true
	}
	return 0, false
}
