package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/visionops/config"
	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/health"
	"github.com/jonwraymond/visionops/observe"
	"github.com/jonwraymond/visionops/resilience"
	"github.com/jonwraymond/visionops/vision"
)

type stubProvider struct {
	name         string
	analyzeErr   error
	analyzeCalls atomic.Int32
}

var _ vision.Provider = (*stubProvider)(nil)

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) AnalyzeImage(_ context.Context, _ *vision.AnalysisRequest) (*vision.Analysis, error) {
	s.analyzeCalls.Add(1)
	if s.analyzeErr != nil {
		return nil, s.analyzeErr
	}
	return &vision.Analysis{Provider: s.name, Model: "stub-model", Summary: "a bar chart"}, nil
}

func (s *stubProvider) CompareImages(_ context.Context, _ *vision.CompareRequest) (*vision.Comparison, error) {
	return &vision.Comparison{Provider: s.name, Similarity: 0.5, Summary: "somewhat alike"}, nil
}

func (s *stubProvider) UploadFile(_ context.Context, path string) (*vision.Upload, error) {
	return &vision.Upload{Provider: s.name, ID: "files/abc", Name: filepath.Base(path)}, nil
}

func (s *stubProvider) HealthCheck(_ context.Context) error { return nil }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfig = `
service:
  name: vision-test
providers:
  - name: gemini
    api_key: test-key
rate_limit:
  requests_per_second: 2
  burst_size: 3
  quota_per_day: 10
health:
  check_interval: 1h
`

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, testConfig)

	cfg, err := loadConfig(options{configPath: path})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Service.Name != "vision-test" {
		t.Errorf("expected service name vision-test, got %q", cfg.Service.Name)
	}
	if cfg.Service.Version != version {
		t.Errorf("expected version stamped to %q, got %q", version, cfg.Service.Version)
	}
	if cfg.Providers[0].Kind != "gemini" {
		t.Errorf("expected kind defaulted to gemini, got %q", cfg.Providers[0].Kind)
	}
}

func TestLoadConfig_ModelOverride(t *testing.T) {
	path := writeConfig(t, testConfig)

	cfg, err := loadConfig(options{configPath: path, model: "gemini-2.5-pro"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	for i, p := range cfg.Providers {
		if p.Model != "gemini-2.5-pro" {
			t.Errorf("providers[%d]: expected model override, got %q", i, p.Model)
		}
	}
}

func TestLoadConfig_DefaultFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := loadConfig(options{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "gemini" {
		t.Fatalf("expected single gemini provider, got %+v", cfg.Providers)
	}
	if cfg.Providers[0].APIKey != "env-key" {
		t.Errorf("expected api key from environment, got %q", cfg.Providers[0].APIKey)
	}
}

func TestLoadConfig_DefaultWithoutKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := loadConfig(options{})
	if err == nil {
		t.Fatal("expected error when GEMINI_API_KEY is unset")
	}
	if fault.KindOf(err) != fault.KindConfig {
		t.Errorf("expected KindConfig, got %v", fault.KindOf(err))
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Errorf("expected hint naming GEMINI_API_KEY, got %q", err.Error())
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(options{configPath: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if fault.KindOf(err) != fault.KindConfig {
		t.Errorf("expected KindConfig, got %v", fault.KindOf(err))
	}
}

func TestBuildProvider_UnknownKind(t *testing.T) {
	_, err := buildProvider(context.Background(), config.ProviderConfig{Name: "mystery", Kind: "mystery"})
	if err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
	if fault.KindOf(err) != fault.KindConfig {
		t.Errorf("expected KindConfig, got %v", fault.KindOf(err))
	}
	if !strings.Contains(err.Error(), `unknown provider kind "mystery"`) {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestBuildPipeline(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(testConfig))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	breakers := resilience.NewBreakerGroup()

	pipe := buildPipeline(cfg, cfg.Providers[0], options{concurrency: 2, timeout: time.Second},
		observe.NopLogger(), observe.NewCollector(), breakers)

	if pipe.Breaker() == nil {
		t.Error("expected a circuit breaker in the pipeline")
	}
	if pipe.Limiter() == nil {
		t.Error("expected a rate limiter in the pipeline")
	}
	names := breakers.Names()
	if len(names) != 1 || names[0] != "gemini" {
		t.Errorf("expected breaker registered for gemini, got %v", names)
	}
}

func TestBuildPipeline_OverrideDisablesLimiter(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(testConfig))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	off := false
	pc := cfg.Providers[0]
	pc.RateLimit = &config.RateLimitConfig{Enabled: &off}

	pipe := buildPipeline(cfg, pc, options{concurrency: 2},
		observe.NopLogger(), observe.NewCollector(), resilience.NewBreakerGroup())

	if pipe.Limiter() != nil {
		t.Error("expected no limiter when the provider override disables rate limiting")
	}
	if pipe.Breaker() == nil {
		t.Error("expected the breaker to be unaffected by the rate limit override")
	}
}

func TestBuildPipeline_DisabledBreaker(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(testConfig + `
circuit_breaker:
  enabled: false
`))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	breakers := resilience.NewBreakerGroup()

	pipe := buildPipeline(cfg, cfg.Providers[0], options{concurrency: 2},
		observe.NopLogger(), observe.NewCollector(), breakers)

	if pipe.Breaker() != nil {
		t.Error("expected no breaker when circuit breaking is disabled")
	}
	if len(breakers.Names()) != 0 {
		t.Errorf("expected empty breaker group, got %v", breakers.Names())
	}
}

func TestBuildApp(t *testing.T) {
	metricsPath := filepath.Join(t.TempDir(), "metrics.json")
	path := writeConfig(t, testConfig)

	app, err := buildApp(context.Background(), options{
		configPath:  path,
		concurrency: 2,
		timeout:     time.Second,
		metricsPath: metricsPath,
	})
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}

	if got := app.Client.Providers(); len(got) != 1 || got[0] != "gemini" {
		t.Errorf("expected [gemini], got %v", got)
	}
	if app.Monitor == nil {
		t.Error("expected a health monitor")
	}
	if _, ok := app.Breakers.Get("gemini"); !ok {
		t.Error("expected a breaker registered for gemini")
	}
	if _, ok := app.Client.Limiters().Get("gemini"); !ok {
		t.Error("expected a limiter registered for gemini")
	}

	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("expected metrics snapshot at %s: %v", metricsPath, err)
	}
	var snap map[string]any
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
}

func TestBuildApp_HealthDisabled(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: gemini
    api_key: test-key
health:
  enabled: false
`)

	app, err := buildApp(context.Background(), options{configPath: path, concurrency: 2})
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer app.Close(context.Background())

	if app.Monitor != nil {
		t.Fatal("expected no monitor when health is disabled")
	}

	err = runHealth(context.Background(), app, options{format: "text"}, nil)
	if fault.KindOf(err) != fault.KindConfig {
		t.Errorf("expected KindConfig for health with monitoring disabled, got %v", err)
	}
}

func TestRunAnalyze_Batch(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".png")
		if err := os.WriteFile(paths[i], []byte("png-bytes"), 0o600); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}

	p := &stubProvider{name: "gemini"}
	client := vision.NewClient()
	client.RegisterProvider(p, nil)
	app := &App{Client: client}

	if err := runAnalyze(context.Background(), app, options{concurrency: 2, format: "text"}, paths); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	if got := p.analyzeCalls.Load(); got != 3 {
		t.Errorf("expected 3 provider calls, got %d", got)
	}
}

func TestRunAnalyze_ErrorNamesPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	p := &stubProvider{
		name:       "gemini",
		analyzeErr: fault.New(fault.KindServer, "gemini", "analyze_image", "upstream exploded"),
	}
	client := vision.NewClient()
	client.RegisterProvider(p, nil)
	app := &App{Client: client}

	err := runAnalyze(context.Background(), app, options{concurrency: 1, format: "text"}, []string{path})
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if !strings.Contains(err.Error(), "broken.png") {
		t.Errorf("expected failing path in error, got %q", err.Error())
	}
	if fault.KindOf(err) != fault.KindServer {
		t.Errorf("expected classification to survive wrapping, got %v", fault.KindOf(err))
	}
}

func TestRunAnalyze_NoPaths(t *testing.T) {
	err := runAnalyze(context.Background(), &App{}, options{concurrency: 1}, nil)
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

func TestRunCompare_WrongArity(t *testing.T) {
	err := runCompare(context.Background(), &App{}, options{}, []string{"one.png"})
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

func TestRunUpload_WrongArity(t *testing.T) {
	err := runUpload(context.Background(), &App{}, options{}, nil)
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), &App{}, options{}, "explode", nil)
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("expected KindValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), `unknown command "explode"`) {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestCollectQuota(t *testing.T) {
	client := vision.NewClient()
	limited := resilience.NewPipeline(resilience.WithLimiter(resilience.NewLimiter(resilience.LimiterConfig{
		RequestsPerSecond: 1,
		BurstSize:         3,
		QuotaPerDay:       10,
	})))
	client.RegisterProvider(&stubProvider{name: "alpha"}, limited)
	client.RegisterProvider(&stubProvider{name: "beta"}, nil)

	breakers := resilience.NewBreakerGroup()
	breakers.Register("alpha", resilience.BreakerConfig{})

	entries := collectQuota(&App{Client: client, Breakers: breakers})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	alpha := entries[0]
	if alpha.Provider != "alpha" || alpha.Limiter == nil || alpha.Quota == nil {
		t.Fatalf("expected alpha with limiter and quota views, got %+v", alpha)
	}
	if alpha.Limiter.Burst != 3 {
		t.Errorf("expected burst 3, got %d", alpha.Limiter.Burst)
	}
	if alpha.Quota.Limit != 10 {
		t.Errorf("expected quota limit 10, got %d", alpha.Quota.Limit)
	}
	if alpha.Circuit != "closed" {
		t.Errorf("expected closed circuit, got %q", alpha.Circuit)
	}

	beta := entries[1]
	if beta.Limiter != nil || beta.Quota != nil {
		t.Errorf("expected beta unthrottled, got %+v", beta)
	}
	if beta.Circuit != "" {
		t.Errorf("expected no circuit for beta, got %q", beta.Circuit)
	}
}

func TestRunQuota_NoProviders(t *testing.T) {
	app := &App{Client: vision.NewClient(), Breakers: resilience.NewBreakerGroup()}
	err := runQuota(app, options{format: "text"})
	if fault.KindOf(err) != fault.KindConfig {
		t.Errorf("expected KindConfig, got %v", err)
	}
}

func TestPrintHealth_Text(t *testing.T) {
	m := health.NewMonitor(health.MonitorConfig{})
	m.AddProvider("alpha", health.ProberFunc(func(ctx context.Context) error { return nil }))
	m.AddProvider("beta", health.ProberFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	results := m.CheckAll(context.Background())

	var buf bytes.Buffer
	if err := printHealth(&buf, "text", &App{Monitor: m}, results); err != nil {
		t.Fatalf("printHealth: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"alpha", "beta", "healthy", "overall: unhealthy"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestPrintHealth_JSON(t *testing.T) {
	m := health.NewMonitor(health.MonitorConfig{})
	m.AddProvider("alpha", health.ProberFunc(func(ctx context.Context) error { return nil }))
	results := m.CheckAll(context.Background())

	var buf bytes.Buffer
	if err := printHealth(&buf, "json", &App{Monitor: m}, results); err != nil {
		t.Fatalf("printHealth: %v", err)
	}

	var out struct {
		Overall   string `json:"overall"`
		Providers []struct {
			Provider string `json:"provider"`
			Status   string `json:"status"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if out.Overall != "healthy" {
		t.Errorf("expected overall healthy, got %q", out.Overall)
	}
	if len(out.Providers) != 1 || out.Providers[0].Status != "healthy" {
		t.Errorf("unexpected providers: %+v", out.Providers)
	}
}

func TestPrintAnalysis(t *testing.T) {
	var buf bytes.Buffer
	printAnalysis(&buf, "chart.png", &vision.Analysis{
		Provider: "gemini",
		Model:    "stub-model",
		Summary:  "a bar chart",
		Labels:   []vision.Label{{Name: "chart", Confidence: 0.92}},
		Text:     "Q3 revenue",
	})

	out := buf.String()
	for _, want := range []string{"chart.png", "a bar chart", "label: chart", "0.92", "text: Q3 revenue"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestCallOptions(t *testing.T) {
	if got := callOptions(options{}); len(got) != 0 {
		t.Errorf("expected no call options, got %d", len(got))
	}
	if got := callOptions(options{provider: "gemini"}); len(got) != 1 {
		t.Errorf("expected one call option, got %d", len(got))
	}
}
