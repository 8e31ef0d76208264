// Command visionops analyzes, compares, and uploads images through
// guarded vision provider calls: circuit breaking, rate limiting,
// retries, response caching, health monitoring, and telemetry, all
// wired from a YAML configuration file.
//
// With no -config flag it runs against a single gemini provider using
// the GEMINI_API_KEY environment variable (a .env file is honored).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/health"
	"github.com/jonwraymond/visionops/observe"
	"github.com/jonwraymond/visionops/vision"
)

// version is stamped at build time: -ldflags "-X main.version=v1.2.3".
var version = "dev"

type options struct {
	configPath  string
	provider    string
	model       string
	prompt      string
	format      string
	timeout     time.Duration
	concurrency int
	verbose     bool
	noColor     bool
	metricsPath string
}

func main() {
	// A .env in the working directory feeds both ${VAR} expansion in
	// the config file and the default GEMINI_API_KEY lookup.
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to YAML configuration (default: single gemini provider from GEMINI_API_KEY)")
	flag.StringVar(&opts.provider, "provider", "", "pin calls to the named provider instead of trying providers in order")
	flag.StringVar(&opts.model, "model", "", "override the configured model for every provider")
	flag.StringVar(&opts.prompt, "prompt", "", "extra instructions for analyze and compare")
	flag.StringVar(&opts.format, "format", "text", "output format: text or json")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-attempt provider call timeout (0 disables)")
	flag.IntVar(&opts.concurrency, "concurrency", 4, "concurrent provider calls during batch analyze")
	flag.BoolVar(&opts.verbose, "verbose", false, "print error classification and cause chains")
	flag.BoolVar(&opts.noColor, "no-color", false, "disable ANSI colors in error output")
	flag.StringVar(&opts.metricsPath, "metrics", "", "write a JSON metrics snapshot to this path on exit")
	flag.Usage = usage
	flag.Parse()

	if opts.format != "text" && opts.format != "json" {
		fmt.Fprintf(os.Stderr, "unknown format %q, want text or json\n", opts.format)
		os.Exit(2)
	}
	if opts.concurrency < 1 {
		fmt.Fprintln(os.Stderr, "concurrency must be at least 1")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, opts)
	if err != nil {
		// The full handler needs the app's logger; before that exists,
		// report through a bare one.
		fault.NewHandler(observe.NopLogger(),
			fault.WithVerbose(opts.verbose),
			fault.WithColor(!opts.noColor),
		).Handle(ctx, err)
		return
	}

	err = run(ctx, app, opts, command, args)

	// Handle exits the process, so shutdown has to finish first.
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if closeErr := app.Close(closeCtx); closeErr != nil {
		app.Logger.Warn(closeCtx, "shutdown incomplete",
			observe.Field{Key: "error", Value: closeErr.Error()})
	}
	cancel()

	app.Handler.Handle(ctx, err)
}

func run(ctx context.Context, app *App, opts options, command string, args []string) error {
	switch command {
	case "analyze":
		return runAnalyze(ctx, app, opts, args)
	case "compare":
		return runCompare(ctx, app, opts, args)
	case "upload":
		return runUpload(ctx, app, opts, args)
	case "health":
		return runHealth(ctx, app, opts, args)
	case "quota":
		return runQuota(app, opts)
	default:
		return fault.New(fault.KindValidation, "cli", "dispatch",
			fmt.Sprintf("unknown command %q", command))
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `visionops %s - image analysis through guarded vision provider calls

Usage:
  visionops [flags] analyze <image>...
  visionops [flags] compare <imageA> <imageB>
  visionops [flags] upload <file>
  visionops [flags] health [-watch] [-listen addr]
  visionops [flags] quota

Flags:
`, version)
	flag.PrintDefaults()
}

// callOptions translates the -provider flag into per-call options.
func callOptions(opts options) []vision.CallOption {
	if opts.provider == "" {
		return nil
	}
	return []vision.CallOption{vision.WithProvider(opts.provider)}
}

// runAnalyze describes each image, fanning batches out with bounded
// concurrency. The first failure cancels the outstanding work.
func runAnalyze(ctx context.Context, app *App, opts options, paths []string) error {
	if len(paths) == 0 {
		return fault.New(fault.KindValidation, "cli", "analyze", "at least one image path is required")
	}

	results := make([]*vision.Analysis, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			img, err := vision.LoadImage(path)
			if err != nil {
				return err
			}
			res, err := app.Client.Analyze(gctx, &vision.AnalysisRequest{
				Image:  img,
				Prompt: opts.prompt,
			}, callOptions(opts)...)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if opts.format == "json" {
		return printJSON(os.Stdout, results)
	}
	for i, res := range results {
		if i > 0 {
			fmt.Println()
		}
		printAnalysis(os.Stdout, paths[i], res)
	}
	return nil
}

func printAnalysis(w io.Writer, path string, res *vision.Analysis) {
	fmt.Fprintf(w, "%s (%s/%s, %s)\n", path, res.Provider, res.Model, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  %s\n", res.Summary)
	for _, l := range res.Labels {
		fmt.Fprintf(w, "  label: %-24s %.2f\n", l.Name, l.Confidence)
	}
	for _, o := range res.Objects {
		if o.Box != nil {
			fmt.Fprintf(w, "  object: %-23s %.2f at (%.2f, %.2f) %.2fx%.2f\n",
				o.Label, o.Confidence, o.Box.X, o.Box.Y, o.Box.W, o.Box.H)
		} else {
			fmt.Fprintf(w, "  object: %-23s %.2f\n", o.Label, o.Confidence)
		}
	}
	if res.Text != "" {
		fmt.Fprintf(w, "  text: %s\n", res.Text)
	}
}

func runCompare(ctx context.Context, app *App, opts options, args []string) error {
	if len(args) != 2 {
		return fault.New(fault.KindValidation, "cli", "compare", "compare needs exactly two image paths")
	}
	a, err := vision.LoadImage(args[0])
	if err != nil {
		return err
	}
	b, err := vision.LoadImage(args[1])
	if err != nil {
		return err
	}
	res, err := app.Client.Compare(ctx, &vision.CompareRequest{
		A:      a,
		B:      b,
		Prompt: opts.prompt,
	}, callOptions(opts)...)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return printJSON(os.Stdout, res)
	}
	fmt.Printf("%s vs %s (%s/%s, %s)\n", args[0], args[1], res.Provider, res.Model, res.Duration.Round(time.Millisecond))
	fmt.Printf("  similarity: %.2f\n", res.Similarity)
	fmt.Printf("  %s\n", res.Summary)
	for _, d := range res.Differences {
		fmt.Printf("  - %s\n", d)
	}
	return nil
}

func runUpload(ctx context.Context, app *App, opts options, args []string) error {
	if len(args) != 1 {
		return fault.New(fault.KindValidation, "cli", "upload", "upload needs exactly one file path")
	}
	up, err := app.Client.Upload(ctx, args[0], callOptions(opts)...)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return printJSON(os.Stdout, up)
	}
	fmt.Printf("uploaded %s to %s\n", args[0], up.Provider)
	fmt.Printf("  id:   %s\n", up.ID)
	fmt.Printf("  uri:  %s\n", up.URI)
	fmt.Printf("  mime: %s\n", up.MIMEType)
	fmt.Printf("  size: %d bytes\n", up.SizeBytes)
	return nil
}

// runHealth reports provider health once, or with -watch keeps probing
// in the background and serves the HTTP status and metrics endpoints
// until interrupted.
func runHealth(ctx context.Context, app *App, opts options, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	watch := fs.Bool("watch", false, "keep monitoring and serve HTTP status endpoints")
	listen := fs.String("listen", ":8080", "listen address for -watch")
	_ = fs.Parse(args)

	if app.Monitor == nil {
		return fault.New(fault.KindConfig, "cli", "health", "health monitoring is disabled in the configuration")
	}

	results := app.Monitor.CheckAll(ctx)
	if !*watch {
		return printHealth(os.Stdout, opts.format, app, results)
	}

	app.Monitor.Start()

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, app.Monitor)
	mux.Handle("/metrics", health.MetricsHandler())

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	app.Logger.Info(ctx, "watching provider health",
		observe.Field{Key: "listen", Value: *listen},
		observe.Field{Key: "interval", Value: app.Config.Health.CheckInterval.String()})

	select {
	case err := <-serveErr:
		return fault.Wrap(fault.KindNetwork, "cli", "health_watch", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printHealth(w io.Writer, format string, app *App, results map[string]health.Result) error {
	names := app.Monitor.Providers()

	if format == "json" {
		type entry struct {
			Provider     string  `json:"provider"`
			Status       string  `json:"status"`
			Message      string  `json:"message,omitempty"`
			ResponseTime string  `json:"responseTime"`
			SuccessRate  float64 `json:"successRate"`
		}
		out := struct {
			Overall   string  `json:"overall"`
			Providers []entry `json:"providers"`
		}{Overall: app.Monitor.Overall().String()}
		for _, name := range names {
			res := results[name]
			perf, _ := app.Monitor.ProviderPerformance(name)
			out.Providers = append(out.Providers, entry{
				Provider:     name,
				Status:       res.Status.String(),
				Message:      res.Message,
				ResponseTime: res.ResponseTime.String(),
				SuccessRate:  perf.SuccessRate,
			})
		}
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "%-16s %-10s %-12s %s\n", "PROVIDER", "STATUS", "RESPONSE", "MESSAGE")
	for _, name := range names {
		res := results[name]
		fmt.Fprintf(w, "%-16s %-10s %-12s %s\n",
			name, res.Status.String(), res.ResponseTime.Round(time.Millisecond), res.Message)
	}
	fmt.Fprintf(w, "overall: %s\n", app.Monitor.Overall())
	return nil
}

type limiterView struct {
	Tokens            float64 `json:"tokens"`
	Burst             int     `json:"burst"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Limited           bool    `json:"limited"`
	BackoffRemaining  string  `json:"backoffRemaining,omitempty"`
}

type quotaView struct {
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"resetAt"`
}

type quotaEntry struct {
	Provider string       `json:"provider"`
	Limiter  *limiterView `json:"limiter,omitempty"`
	Quota    *quotaView   `json:"quota,omitempty"`
	Circuit  string       `json:"circuit,omitempty"`
}

// collectQuota gathers per-provider admission state: limiter tokens,
// daily quota usage, and circuit state. Providers without a limiter run
// unthrottled and get a nil Limiter view.
func collectQuota(app *App) []quotaEntry {
	names := app.Client.Providers()
	limiters := app.Client.Limiters()

	entries := make([]quotaEntry, 0, len(names))
	for _, name := range names {
		e := quotaEntry{Provider: name}
		if lim, ok := limiters.Get(name); ok {
			status := lim.Status()
			e.Limiter = &limiterView{
				Tokens:            status.Tokens,
				Burst:             status.Burst,
				RequestsPerSecond: status.RequestsPerSecond,
				Limited:           status.Limited,
			}
			if status.BackoffRemaining > 0 {
				e.Limiter.BackoffRemaining = status.BackoffRemaining.Round(time.Millisecond).String()
			}
			quota := lim.Quota()
			e.Quota = &quotaView{
				Limit:     quota.Limit,
				Used:      quota.Used,
				Remaining: quota.Remaining,
				ResetAt:   quota.ResetAt.Format(time.RFC3339),
			}
		}
		if b, ok := app.Breakers.Get(name); ok {
			e.Circuit = b.State().String()
		}
		entries = append(entries, e)
	}
	return entries
}

func runQuota(app *App, opts options) error {
	entries := collectQuota(app)
	if len(entries) == 0 {
		return fault.New(fault.KindConfig, "cli", "quota", "no providers registered")
	}

	if opts.format == "json" {
		return printJSON(os.Stdout, entries)
	}

	fmt.Printf("%-16s %-14s %-18s %s\n", "PROVIDER", "TOKENS", "QUOTA", "CIRCUIT")
	for _, e := range entries {
		tokens, quota := "unlimited", "unlimited"
		if e.Limiter != nil {
			tokens = fmt.Sprintf("%.1f/%d", e.Limiter.Tokens, e.Limiter.Burst)
			if e.Limiter.Limited {
				tokens += " (backoff)"
			}
		}
		if e.Quota != nil && e.Quota.Limit > 0 {
			quota = fmt.Sprintf("%d/%d used", e.Quota.Used, e.Quota.Limit)
		}
		circuit := e.Circuit
		if circuit == "" {
			circuit = "-"
		}
		fmt.Printf("%-16s %-14s %-18s %s\n", e.Provider, tokens, quota, circuit)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
