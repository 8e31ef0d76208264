package fault

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"
)

// DefaultRetryAfter is the backoff applied to rate-limit errors that carry
// no server-provided hint.
const DefaultRetryAfter = 60 * time.Second

// Category groups kinds for reporting and metrics.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTransient
	CategoryRateLimit
	CategoryServer
	CategoryClient
	CategoryAuth
	CategoryValidation
	CategoryStorage
	CategoryConfig
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRateLimit:
		return "rate_limit"
	case CategoryServer:
		return "server"
	case CategoryClient:
		return "client"
	case CategoryAuth:
		return "auth"
	case CategoryValidation:
		return "validation"
	case CategoryStorage:
		return "storage"
	case CategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Severity ranks how urgently a human should look at the error.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "low"
	}
}

// Action is the suggested next step for the caller.
type Action int

const (
	ActionFail Action = iota
	ActionRetry
	ActionBackoff
	ActionSwitchProvider
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionBackoff:
		return "backoff"
	case ActionSwitchProvider:
		return "switch_provider"
	default:
		return "fail"
	}
}

// Analysis is the full classification of an error: what it is and what the
// resilience layer should do about it.
type Analysis struct {
	Retryable    bool
	TripBreaker  bool
	ApplyBackoff bool
	Action       Action
	Category     Category
	Severity     Severity
	RetryAfter   time.Duration // Only set when ApplyBackoff is true
}

// Analyze classifies err. Classified errors map from their Kind; generic
// errors go through heuristics. A nil error yields the zero Analysis.
func Analyze(err error) Analysis {
	if err == nil {
		return Analysis{}
	}

	var fe *Error
	if errors.As(err, &fe) {
		return analyzeKind(fe)
	}
	return analyzeGeneric(err)
}

func analyzeKind(e *Error) Analysis {
	switch e.Kind {
	case KindNetwork:
		return Analysis{
			Retryable:   true,
			TripBreaker: true,
			Action:      ActionRetry,
			Category:    CategoryTransient,
			Severity:    SeverityMedium,
		}

	case KindTimeout:
		return Analysis{
			Retryable:   true,
			TripBreaker: true,
			Action:      ActionRetry,
			Category:    CategoryTransient,
			Severity:    SeverityMedium,
		}

	case KindRateLimit:
		retryAfter := e.RetryAfter
		if retryAfter <= 0 {
			retryAfter = DefaultRetryAfter
		}
		return Analysis{
			Retryable:    true,
			ApplyBackoff: true,
			Action:       ActionBackoff,
			Category:     CategoryRateLimit,
			Severity:     SeverityMedium,
			RetryAfter:   retryAfter,
		}

	case KindServer:
		return Analysis{
			Retryable:   true,
			TripBreaker: true,
			Action:      ActionSwitchProvider,
			Category:    CategoryServer,
			Severity:    SeverityHigh,
		}

	case KindClient:
		return Analysis{
			Action:   ActionFail,
			Category: CategoryClient,
			Severity: SeverityMedium,
		}

	case KindAuth:
		return Analysis{
			TripBreaker: true,
			Action:      ActionFail,
			Category:    CategoryAuth,
			Severity:    SeverityCritical,
		}

	case KindValidation:
		return Analysis{
			Action:   ActionFail,
			Category: CategoryValidation,
			Severity: SeverityLow,
		}

	case KindStorage:
		return Analysis{
			Retryable: true,
			Action:    ActionRetry,
			Category:  CategoryStorage,
			Severity:  SeverityHigh,
		}

	case KindConfig:
		return Analysis{
			Action:   ActionFail,
			Category: CategoryConfig,
			Severity: SeverityHigh,
		}

	default:
		return Analysis{
			Action:   ActionFail,
			Category: CategoryUnknown,
			Severity: SeverityMedium,
		}
	}
}

// analyzeGeneric classifies errors that did not come from a provider
// adapter. Timeouts and network failures are recognized by type where
// possible, by message as a last resort.
func analyzeGeneric(err error) Analysis {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return analyzeKind(&Error{Kind: KindTimeout})
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return analyzeKind(&Error{Kind: KindTimeout})
		}
		return analyzeKind(&Error{Kind: KindNetwork})
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return analyzeKind(&Error{Kind: KindNetwork})
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return analyzeKind(&Error{Kind: KindRateLimit})
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return analyzeKind(&Error{Kind: KindTimeout})
	case strings.Contains(msg, "network"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return analyzeKind(&Error{Kind: KindNetwork})
	}

	return Analysis{
		Action:   ActionFail,
		Category: CategoryUnknown,
		Severity: SeverityMedium,
	}
}

// ExitCode derives the process exit code for a terminal error: the carried
// HTTP status when present, otherwise 1. A nil error exits 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code := StatusOf(err); code > 0 {
		return code
	}
	return 1
}
