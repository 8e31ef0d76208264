package observe

import (
	"context"
	"encoding/json"
	"io"
	"maps"
	"os"
	"sync"
	"time"
)

// Logger is the structured logging interface used throughout the module.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging is best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// WithCall returns a logger that stamps every line with the call
	// identity (call.provider, call.operation, call.model).
	WithCall(meta CallMeta) Logger
}

// Field is one structured log attribute.
type Field struct {
	Key   string
	Value any
}

// LogLevel orders log severities for filtering.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel maps a level name to its LogLevel. Unknown names fall back
// to info rather than failing, so a bad level never silences the logger.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// redactedFieldKeys are field keys whose values never reach the output.
// Prompts and raw image bytes can carry user data; credentials do not
// belong in logs at all.
var redactedFieldKeys = map[string]bool{
	"prompt":     true,
	"image_data": true,
	"password":   true,
	"secret":     true,
	"token":      true,
	"api_key":    true,
	"apiKey":     true,
	"credential": true,
}

// jsonLogger writes one JSON object per line. The mutex covers the write,
// so concurrent lines never interleave.
type jsonLogger struct {
	min   LogLevel
	attrs map[string]any

	mu  sync.Mutex
	out io.Writer
}

// NewLogger returns a JSON line logger writing to stderr. Stdout stays
// free for command output.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter returns a JSON line logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &jsonLogger{
		min:   ParseLogLevel(level),
		attrs: map[string]any{},
		out:   w,
	}
}

func (l *jsonLogger) WithCall(meta CallMeta) Logger {
	attrs := maps.Clone(l.attrs)
	attrs["call.provider"] = meta.Provider
	attrs["call.operation"] = meta.Operation
	if meta.Model != "" {
		attrs["call.model"] = meta.Model
	}

	return &scopedLogger{parent: l, attrs: attrs}
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelInfo, msg, l.attrs, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelWarn, msg, l.attrs, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelError, msg, l.attrs, fields)
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelDebug, msg, l.attrs, fields)
}

func (l *jsonLogger) write(level LogLevel, msg string, attrs map[string]any, fields []Field) {
	if level < l.min {
		return
	}

	entry := make(map[string]any, len(attrs)+len(fields)+3)
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	for k, v := range attrs {
		entry[k] = v
	}
	for _, f := range fields {
		if redactedFieldKeys[f.Key] {
			entry[f.Key] = "[REDACTED]"
		} else {
			entry[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		// A field value that cannot encode drops the whole line.
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(data)
}

// scopedLogger is a jsonLogger view with call attributes attached. It
// routes writes to the parent so all scopes share one write mutex.
type scopedLogger struct {
	parent *jsonLogger
	attrs  map[string]any
}

func (l *scopedLogger) WithCall(meta CallMeta) Logger {
	return l.parent.WithCall(meta)
}

func (l *scopedLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.parent.write(LevelInfo, msg, l.attrs, fields)
}

func (l *scopedLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.parent.write(LevelWarn, msg, l.attrs, fields)
}

func (l *scopedLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.parent.write(LevelError, msg, l.attrs, fields)
}

func (l *scopedLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.parent.write(LevelDebug, msg, l.attrs, fields)
}

// nopLogger drops everything.
type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (nopLogger) Debug(context.Context, string, ...Field) {}
func (nopLogger) WithCall(CallMeta) Logger                { return nopLogger{} }

// NopLogger returns a Logger that discards everything. Useful as a default
// in components where logging is optional.
func NopLogger() Logger {
	return nopLogger{}
}

var (
	_ Logger = (*jsonLogger)(nil)
	_ Logger = (*scopedLogger)(nil)
	_ Logger = nopLogger{}
)
