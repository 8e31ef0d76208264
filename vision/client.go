package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonwraymond/visionops/cache"
	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/health"
	"github.com/jonwraymond/visionops/observe"
	"github.com/jonwraymond/visionops/resilience"
)

// Client fans calls out to registered providers. Every call runs
// through the selected provider's resilience pipeline and the
// observability middleware; analyze and compare responses are served
// from the response cache when one is configured.
type Client struct {
	mu        sync.RWMutex
	providers map[string]Provider
	pipelines map[string]*resilience.Pipeline
	order     []string

	limiters  *resilience.LimiterGroup
	monitor   *health.Monitor
	responses *cache.ResponseCache
	mw        *observe.Middleware
	logger    observe.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger observe.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMiddleware wraps provider calls with tracing, metrics, and
// call logging.
func WithMiddleware(mw *observe.Middleware) ClientOption {
	return func(c *Client) {
		if mw != nil {
			c.mw = mw
		}
	}
}

// WithMonitor tracks provider health. Registered providers join the
// monitor as probers, and providers whose latest check is unhealthy
// are skipped during selection.
func WithMonitor(m *health.Monitor) ClientOption {
	return func(c *Client) { c.monitor = m }
}

// WithResponseCache serves repeated analyze and compare requests from
// cache instead of the provider.
func WithResponseCache(rc *cache.ResponseCache) ClientOption {
	return func(c *Client) { c.responses = rc }
}

// WithLimiterGroup sets the group that tracks each provider's rate
// limiter for selection. Pipelines' limiters are attached to it as
// providers register.
func WithLimiterGroup(g *resilience.LimiterGroup) ClientOption {
	return func(c *Client) {
		if g != nil {
			c.limiters = g
		}
	}
}

// NewClient creates a client with no providers registered.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]Provider),
		pipelines: make(map[string]*resilience.Pipeline),
		limiters:  resilience.NewLimiterGroup(),
		mw:        observe.NopMiddleware(),
		logger:    observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterProvider adds a provider behind the given pipeline. A nil
// pipeline runs calls unguarded. Registering an existing name replaces
// the provider but keeps its position in the registration order. The
// pipeline's limiter, if any, joins the limiter group so selection
// sees its token state, and the provider's health check joins the
// monitor as its prober.
func (c *Client) RegisterProvider(p Provider, pipe *resilience.Pipeline) {
	if p == nil {
		return
	}
	if pipe == nil {
		pipe = resilience.NewPipeline(resilience.WithLogger(c.logger))
	}
	name := p.Name()

	c.mu.Lock()
	if _, exists := c.providers[name]; !exists {
		c.order = append(c.order, name)
	}
	c.providers[name] = p
	c.pipelines[name] = pipe
	c.mu.Unlock()

	c.limiters.Add(name, pipe.Limiter())
	if c.monitor != nil {
		c.monitor.AddProvider(name, health.ProberFunc(p.HealthCheck))
	}
}

// DeregisterProvider removes the named provider and tears down its
// limiter and monitor registrations. Unknown names are a no-op.
func (c *Client) DeregisterProvider(name string) {
	c.mu.Lock()
	if _, exists := c.providers[name]; !exists {
		c.mu.Unlock()
		return
	}
	delete(c.providers, name)
	delete(c.pipelines, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.limiters.Remove(name)
	if c.monitor != nil {
		c.monitor.RemoveProvider(name)
	}
}

// Providers returns registered provider names in registration order.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Limiters returns the group tracking each provider's rate limiter.
func (c *Client) Limiters() *resilience.LimiterGroup {
	return c.limiters
}

// CallOption adjusts a single Analyze, Compare, or Upload call.
type CallOption func(*callOptions)

type callOptions struct {
	provider string
}

// WithProvider pins the call to the named provider. Pinned calls do
// not fall through to other providers on failure.
func WithProvider(name string) CallOption {
	return func(o *callOptions) { o.provider = name }
}

func applyCallOptions(opts []CallOption) callOptions {
	var copts callOptions
	for _, opt := range opts {
		opt(&copts)
	}
	return copts
}

// Analyze describes an image. Candidate providers are tried in
// selection order; a failure whose classification says another
// provider could absorb it moves to the next candidate, any other
// failure returns immediately.
func (c *Client) Analyze(ctx context.Context, req *AnalysisRequest, opts ...CallOption) (*Analysis, error) {
	if req == nil || len(req.Image.Data) == 0 {
		return nil, fault.New(fault.KindValidation, "vision", "analyze_image", "request has no image data")
	}

	var out *Analysis
	err := c.run(ctx, applyCallOptions(opts), func(ctx context.Context, name string) error {
		res, err := c.analyzeWith(ctx, name, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Compare contrasts two images, with the same provider selection and
// fallback behavior as Analyze.
func (c *Client) Compare(ctx context.Context, req *CompareRequest, opts ...CallOption) (*Comparison, error) {
	if req == nil || len(req.A.Data) == 0 || len(req.B.Data) == 0 {
		return nil, fault.New(fault.KindValidation, "vision", "compare_images", "request needs two images")
	}

	var out *Comparison
	err := c.run(ctx, applyCallOptions(opts), func(ctx context.Context, name string) error {
		res, err := c.compareWith(ctx, name, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upload pushes a local file to a provider's file store. Uploads are
// never cached.
func (c *Client) Upload(ctx context.Context, path string, opts ...CallOption) (*Upload, error) {
	if path == "" {
		return nil, fault.New(fault.KindValidation, "vision", "upload_file", "path is empty")
	}

	var out *Upload
	err := c.run(ctx, applyCallOptions(opts), func(ctx context.Context, name string) error {
		res, err := c.uploadWith(ctx, name, path)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run tries call against each candidate provider until one succeeds,
// falling through only on failures the classifier routes to another
// provider.
func (c *Client) run(ctx context.Context, copts callOptions, call func(ctx context.Context, name string) error) error {
	names, err := c.candidates(copts.provider)
	if err != nil {
		return err
	}

	var lastErr error
	for i, name := range names {
		lastErr = call(ctx, name)
		if lastErr == nil {
			return nil
		}
		if i == len(names)-1 || fault.Analyze(lastErr).Action != fault.ActionSwitchProvider {
			return lastErr
		}
		c.logger.Warn(ctx, "provider failed, switching",
			observe.Field{Key: "provider", Value: name},
			observe.Field{Key: "next", Value: names[i+1]},
			observe.Field{Key: "error", Value: lastErr.Error()})
	}
	return lastErr
}

// candidates resolves the providers to try, in order. An explicit
// provider is used alone. Otherwise candidates follow registration
// order with unhealthy providers filtered out, led by the provider
// with the most rate limiter headroom.
func (c *Client) candidates(explicit string) ([]string, error) {
	c.mu.RLock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	c.mu.RUnlock()

	if explicit != "" {
		if _, _, ok := c.provider(explicit); !ok {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, explicit)
		}
		return []string{explicit}, nil
	}
	if len(names) == 0 {
		return nil, ErrNoProviders
	}

	if c.monitor != nil {
		// When every provider looks unhealthy the stale view must not
		// cause an outage, so the filter only applies when it leaves
		// at least one candidate.
		if filtered := without(names, c.monitor.Unhealthy()); len(filtered) > 0 {
			names = filtered
		}
	}
	if best := c.limiters.BestProvider(); best != "" {
		names = moveToFront(names, best)
	}
	return names, nil
}

func (c *Client) provider(name string) (Provider, *resilience.Pipeline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[name]
	if !ok {
		return nil, nil, false
	}
	return p, c.pipelines[name], true
}

func (c *Client) analyzeWith(ctx context.Context, name string, req *AnalysisRequest) (*Analysis, error) {
	p, pipe, ok := c.provider(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	invoke := func(ctx context.Context) (*Analysis, error) {
		out, err := c.callProvider(ctx, pipe, observe.CallMeta{
			Provider:  name,
			Operation: "analyze_image",
			Model:     req.Model,
		}, func(ctx context.Context) (any, error) {
			return p.AnalyzeImage(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return out.(*Analysis), nil
	}

	if c.responses == nil {
		return invoke(ctx)
	}

	key := analyzeKey{Model: req.Model, Prompt: req.Prompt, Image: digest(req.Image.Data)}
	raw, err := c.responses.Execute(ctx, name, "analyze_image", key, func(ctx context.Context) ([]byte, error) {
		res, err := invoke(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return nil, err
	}

	res := &Analysis{}
	if err := json.Unmarshal(raw, res); err != nil {
		// A corrupt entry would otherwise be served until its TTL expires.
		_ = c.responses.Invalidate(ctx, name, "analyze_image", key)
		return nil, fault.Wrap(fault.KindStorage, name, "analyze_image", err)
	}
	return res, nil
}

func (c *Client) compareWith(ctx context.Context, name string, req *CompareRequest) (*Comparison, error) {
	p, pipe, ok := c.provider(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	invoke := func(ctx context.Context) (*Comparison, error) {
		out, err := c.callProvider(ctx, pipe, observe.CallMeta{
			Provider:  name,
			Operation: "compare_images",
		}, func(ctx context.Context) (any, error) {
			return p.CompareImages(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return out.(*Comparison), nil
	}

	if c.responses == nil {
		return invoke(ctx)
	}

	key := compareKey{Prompt: req.Prompt, A: digest(req.A.Data), B: digest(req.B.Data)}
	raw, err := c.responses.Execute(ctx, name, "compare_images", key, func(ctx context.Context) ([]byte, error) {
		res, err := invoke(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return nil, err
	}

	res := &Comparison{}
	if err := json.Unmarshal(raw, res); err != nil {
		_ = c.responses.Invalidate(ctx, name, "compare_images", key)
		return nil, fault.Wrap(fault.KindStorage, name, "compare_images", err)
	}
	return res, nil
}

func (c *Client) uploadWith(ctx context.Context, name, path string) (*Upload, error) {
	p, pipe, ok := c.provider(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	out, err := c.callProvider(ctx, pipe, observe.CallMeta{
		Provider:  name,
		Operation: "upload_file",
	}, func(ctx context.Context) (any, error) {
		return p.UploadFile(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Upload), nil
}

// callProvider runs one provider call through the pipeline and the
// observability middleware. Cache hits never reach this point, so
// call metrics count provider traffic only.
func (c *Client) callProvider(ctx context.Context, pipe *resilience.Pipeline, meta observe.CallMeta, fn func(ctx context.Context) (any, error)) (any, error) {
	wrapped := c.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (any, error) {
		var out any
		err := pipe.Do(ctx, func(ctx context.Context) error {
			res, err := fn(ctx)
			if err != nil {
				return err
			}
			out = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	return wrapped(ctx, meta)
}

// analyzeKey is the cache identity of an analysis request. The image
// digest stands in for the bytes so keys stay small.
type analyzeKey struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Image  string `json:"image"`
}

// compareKey is the cache identity of a comparison request.
type compareKey struct {
	Prompt string `json:"prompt"`
	A      string `json:"a"`
	B      string `json:"b"`
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func without(names, drop []string) []string {
	if len(drop) == 0 {
		return names
	}
	dropped := make(map[string]bool, len(drop))
	for _, n := range drop {
		dropped[n] = true
	}
	kept := make([]string, 0, len(names))
	for _, n := range names {
		if !dropped[n] {
			kept = append(kept, n)
		}
	}
	return kept
}

func moveToFront(names []string, name string) []string {
	for i, n := range names {
		if n != name {
			continue
		}
		if i == 0 {
			return names
		}
		reordered := make([]string, 0, len(names))
		reordered = append(reordered, name)
		reordered = append(reordered, names[:i]...)
		reordered = append(reordered, names[i+1:]...)
		return reordered
	}
	return names
}
