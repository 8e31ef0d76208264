// Package vision analyzes and compares images through pluggable
// providers.
//
// A Provider is one vision backend (Gemini lives in the gemini
// subpackage). The Client is the multi-provider facade: it selects a
// provider, runs the call through that provider's resilience pipeline
// and the observability middleware, and serves repeated analyze and
// compare requests from the response cache.
//
// # Provider Selection
//
// WithProvider pins a call to one provider. Otherwise candidates
// follow registration order with unhealthy providers filtered out,
// led by the provider whose rate limiter has the most headroom. When
// a call fails and the fault classifier suggests switching providers,
// the client falls through to the next candidate; any other failure
// returns as is.
//
// # Usage
//
//	client := vision.NewClient(
//	    vision.WithLogger(logger),
//	    vision.WithMonitor(monitor),
//	)
//	client.RegisterProvider(gemini, pipeline)
//
//	img, err := vision.LoadImage("chart.png")
//	if err != nil {
//	    return err
//	}
//	analysis, err := client.Analyze(ctx, &vision.AnalysisRequest{Image: img})
package vision
