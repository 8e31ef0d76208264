package observe

import "go.opentelemetry.io/otel/attribute"

// CallMeta identifies one provider call for telemetry. Provider and
// Operation are required; Model is set when the call targets a specific
// model rather than the provider default.
type CallMeta struct {
	Provider  string // e.g. "gemini"
	Operation string // e.g. "analyze_image"
	Model     string
}

// CallID returns the short identity of the call, "<provider>.<operation>".
// Collector metric names and log correlation use this form.
func (m CallMeta) CallID() string {
	return m.Provider + "." + m.Operation
}

// SpanName returns the span name for the call,
// "vision.call.<provider>.<operation>". The name is deterministic so spans
// from repeated calls aggregate under one entry in trace backends.
func (m CallMeta) SpanName() string {
	return "vision.call." + m.CallID()
}

// Validate reports whether the required identity fields are set.
func (m CallMeta) Validate() error {
	if m.Provider == "" {
		return ErrMissingProvider
	}
	if m.Operation == "" {
		return ErrMissingOperation
	}
	return nil
}

// attrs returns the call identity as telemetry attributes. Spans and
// metric data points carry the same set so they join on these keys.
func (m CallMeta) attrs() []attribute.KeyValue {
	kv := make([]attribute.KeyValue, 0, 3)
	kv = append(kv,
		attribute.String("vision.provider", m.Provider),
		attribute.String("vision.operation", m.Operation),
	)
	if m.Model != "" {
		kv = append(kv, attribute.String("vision.model", m.Model))
	}
	return kv
}
