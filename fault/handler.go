package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonwraymond/visionops/observe"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorBoldRed = "\x1b[1;31m"
	colorYellow  = "\x1b[33m"
	colorCyan    = "\x1b[36m"
)

// Handler is the single terminal sink for errors: it logs, records metrics,
// prints a user-facing message and exits the process with a derived code.
//
// Contract:
// - Concurrency: safe for concurrent use; Handle does not return on error.
// - Errors: Handle(nil) is a no-op.
type Handler struct {
	logger    observe.Logger
	collector *observe.Collector
	out       io.Writer
	verbose   bool
	color     bool
	exit      func(int)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithCollector records error counters on the given collector.
func WithCollector(c *observe.Collector) HandlerOption {
	return func(h *Handler) {
		h.collector = c
	}
}

// WithVerbose prints the full classification and cause chain.
func WithVerbose(v bool) HandlerOption {
	return func(h *Handler) {
		h.verbose = v
	}
}

// WithColor toggles ANSI severity colors. Defaults to enabled.
func WithColor(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.color = enabled
	}
}

// WithOutput sets the destination for user-facing messages.
// Defaults to stderr.
func WithOutput(w io.Writer) HandlerOption {
	return func(h *Handler) {
		h.out = w
	}
}

// WithExitFunc replaces os.Exit. Intended for tests and for embedding the
// handler where the process must survive.
func WithExitFunc(fn func(int)) HandlerOption {
	return func(h *Handler) {
		h.exit = fn
	}
}

// NewHandler creates a terminal error handler.
func NewHandler(logger observe.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		logger: logger,
		out:    os.Stderr,
		color:  true,
		exit:   os.Exit,
	}
	if h.logger == nil {
		h.logger = observe.NopLogger()
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle terminates the process for err: logs it, records metrics, prints a
// severity-colored message with an actionable suggestion, then exits with
// ExitCode(err). Returns normally only for a nil error.
func (h *Handler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	analysis := Analyze(err)
	kind := KindOf(err)

	h.logger.Error(ctx, "terminal error",
		observe.Field{Key: "error", Value: err.Error()},
		observe.Field{Key: "kind", Value: kind.String()},
		observe.Field{Key: "category", Value: analysis.Category.String()},
		observe.Field{Key: "severity", Value: analysis.Severity.String()},
		observe.Field{Key: "retryable", Value: analysis.Retryable},
	)

	if h.collector != nil {
		h.collector.Inc("errors.total", 1)
		h.collector.Inc("errors."+analysis.Category.String(), 1)
	}

	fmt.Fprintln(h.out, h.title(kind, analysis.Severity))
	fmt.Fprintf(h.out, "  %v\n", err)

	if s := suggestion(analysis); s != "" {
		fmt.Fprintf(h.out, "  %s\n", s)
	}

	if h.verbose {
		fmt.Fprintf(h.out, "  category=%s severity=%s retryable=%t action=%s\n",
			analysis.Category, analysis.Severity, analysis.Retryable, analysis.Action)
		for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
			fmt.Fprintf(h.out, "  caused by: %v\n", cause)
		}
	}

	h.exit(ExitCode(err))
}

// title renders the severity-colored headline for a kind.
func (h *Handler) title(kind Kind, severity Severity) string {
	t := kindTitle(kind)
	if !h.color {
		return t
	}
	return severityColor(severity) + t + colorReset
}

func severityColor(s Severity) string {
	switch s {
	case SeverityCritical:
		return colorBoldRed
	case SeverityHigh:
		return colorRed
	case SeverityMedium:
		return colorYellow
	default:
		return colorCyan
	}
}

func kindTitle(k Kind) string {
	switch k {
	case KindNetwork:
		return "Network error"
	case KindTimeout:
		return "Operation timed out"
	case KindRateLimit:
		return "Rate limited"
	case KindServer:
		return "Provider error"
	case KindClient:
		return "Request rejected"
	case KindAuth:
		return "Authentication failed"
	case KindValidation:
		return "Invalid input"
	case KindStorage:
		return "Storage failure"
	case KindConfig:
		return "Configuration error"
	default:
		return "Unexpected error"
	}
}

func suggestion(a Analysis) string {
	switch a.Action {
	case ActionRetry:
		return "The operation may succeed if retried."
	case ActionBackoff:
		return fmt.Sprintf("Retry in %d seconds.", int(a.RetryAfter.Seconds()))
	case ActionSwitchProvider:
		return "Try a different provider."
	default:
		return ""
	}
}
