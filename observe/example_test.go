package observe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonwraymond/visionops/observe"
)

func ExampleNewObserver() {
	cfg := observe.Config{
		ServiceName: "example-service",
		Version:     "1.0.0",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none"},
		Metrics:     observe.MetricsConfig{Enabled: false},
		Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
	}

	ctx := context.Background()
	obs, err := observe.NewObserver(ctx, cfg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer func() {
		_ = obs.Shutdown(ctx)
	}()

	fmt.Println("Observer created successfully")
	// Output:
	// Observer created successfully
}

func ExampleConfig_Validate() {
	cfg := observe.Config{
		ServiceName: "my-service",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "zipkin"},
	}

	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid:", err)
	}

	cfg.Tracing.Exporter = "stdout"
	if err := cfg.Validate(); err == nil {
		fmt.Println("Configuration is valid")
	}
	// Output:
	// Invalid: unknown tracing exporter: "zipkin"
	// Configuration is valid
}

func ExampleCallMeta() {
	meta := observe.CallMeta{
		Provider:  "gemini",
		Operation: "analyze_image",
		Model:     "gemini-2.0-flash",
	}

	fmt.Println(meta.CallID())
	fmt.Println(meta.SpanName())
	// Output:
	// gemini.analyze_image
	// vision.call.gemini.analyze_image
}

func ExampleCallMeta_Validate() {
	missing := observe.CallMeta{Provider: "gemini"}
	if errors.Is(missing.Validate(), observe.ErrMissingOperation) {
		fmt.Println("Caught: missing operation name")
	}

	complete := observe.CallMeta{Provider: "gemini", Operation: "analyze_image"}
	fmt.Println("Valid:", complete.Validate() == nil)
	// Output:
	// Caught: missing operation name
	// Valid: true
}

func ExampleNewLoggerWithWriter() {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "application started",
		observe.Field{Key: "version", Value: "1.0.0"})

	fmt.Println("logged:", strings.Contains(buf.String(), "application started"))
	// Output:
	// logged: true
}

func ExampleLogger_withCall() {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)

	callLogger := logger.WithCall(observe.CallMeta{
		Provider:  "gemini",
		Operation: "analyze_image",
	})
	callLogger.Info(context.Background(), "provider call started")

	out := buf.String()
	fmt.Println("has call.provider:", strings.Contains(out, "call.provider"))
	fmt.Println("has call.operation:", strings.Contains(out, "call.operation"))
	// Output:
	// has call.provider: true
	// has call.operation: true
}

func ExampleMiddleware_Wrap() {
	ctx := context.Background()

	cfg := observe.Config{
		ServiceName: "example",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none"},
		Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "none"},
	}
	obs, _ := observe.NewObserver(ctx, cfg)
	defer func() {
		_ = obs.Shutdown(ctx)
	}()

	mw, _ := observe.MiddlewareFromObserver(obs)

	wrapped := mw.Wrap(func(ctx context.Context, meta observe.CallMeta) (any, error) {
		return "labels: cat, sofa", nil
	})

	result, err := wrapped(ctx, observe.CallMeta{
		Provider:  "gemini",
		Operation: "analyze_image",
	})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("Result:", result)
	// Output:
	// Result: labels: cat, sofa
}

func ExampleCollector_Snapshot() {
	collector := observe.NewCollector()

	collector.Inc("retry.attempts", 3)
	collector.SetGauge("limiter.tokens", 4.5)
	collector.Observe("call.duration_ms", 120)
	collector.Observe("call.duration_ms", 80)

	snap := collector.Snapshot()
	fmt.Println("counters:", snap.Counters["retry.attempts"])
	fmt.Println("gauges:", snap.Gauges["limiter.tokens"])
	fmt.Println("histogram count:", snap.Histograms["call.duration_ms"].Count)
	// Output:
	// counters: 3
	// gauges: 4.5
	// histogram count: 2
}

func ExampleParseLogLevel() {
	for _, s := range []string{"debug", "error", "unknown"} {
		fmt.Printf("%s -> %s\n", s, observe.ParseLogLevel(s))
	}
	// Output:
	// debug -> debug
	// error -> error
	// unknown -> info
}
