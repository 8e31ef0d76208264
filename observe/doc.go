// Package observe instruments vision provider calls with OpenTelemetry
// traces and metrics, JSON structured logging with payload redaction, and
// an in-process metrics collector for snapshots and percentile queries.
//
// The package is pure instrumentation: it performs no I/O beyond exporter
// setup. The vision client wires a Middleware around each provider call;
// the composition root owns the Observer lifecycle and its Shutdown.
package observe
