package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LivenessHandler returns an HTTP handler for liveness probes. It only
// confirms the process is serving.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler returns an HTTP handler for readiness probes. It
// reports from the monitor's latest results without probing, so it stays
// cheap under scrape pressure.
func ReadinessHandler(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")

		switch m.Overall() {
		case StatusHealthy:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// StatusResponse is the JSON response for the detailed status endpoint.
type StatusResponse struct {
	Status    string                      `json:"status"`
	Timestamp string                      `json:"timestamp"`
	Providers map[string]ProviderResponse `json:"providers,omitempty"`
}

// ProviderResponse is one provider's latest result and rolling
// performance.
type ProviderResponse struct {
	Status       string              `json:"status"`
	Message      string              `json:"message,omitempty"`
	ResponseTime string              `json:"responseTime,omitempty"`
	CheckedAt    string              `json:"checkedAt,omitempty"`
	Details      DetailsResponse     `json:"details"`
	Performance  PerformanceResponse `json:"performance"`
	Error        string              `json:"error,omitempty"`
}

// DetailsResponse mirrors Details for JSON.
type DetailsResponse struct {
	Authenticated     bool `json:"authenticated"`
	Connected         bool `json:"connected"`
	EndpointAvailable bool `json:"endpointAvailable"`
}

// PerformanceResponse mirrors Performance for JSON.
type PerformanceResponse struct {
	AverageResponseTime string  `json:"averageResponseTime"`
	SuccessRate         float64 `json:"successRate"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
}

// StatusHandler returns an HTTP handler serving the monitor's latest
// results and per-provider performance as JSON.
func StatusHandler(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall := m.Overall()
		response := StatusResponse{
			Status:    overall.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Providers: make(map[string]ProviderResponse),
		}

		for _, name := range m.Providers() {
			result, ok := m.ProviderHealth(name)
			if !ok {
				continue
			}
			perf, _ := m.ProviderPerformance(name)

			provider := ProviderResponse{
				Status:       result.Status.String(),
				Message:      result.Message,
				ResponseTime: result.ResponseTime.String(),
				CheckedAt:    result.Timestamp.UTC().Format(time.RFC3339),
				Details: DetailsResponse{
					Authenticated:     result.Details.Authenticated,
					Connected:         result.Details.Connected,
					EndpointAvailable: result.Details.EndpointAvailable,
				},
				Performance: PerformanceResponse{
					AverageResponseTime: perf.AverageResponseTime.String(),
					SuccessRate:         perf.SuccessRate,
					ConsecutiveFailures: perf.ConsecutiveFailures,
				},
			}
			if result.Err != nil {
				provider.Error = result.Err.Error()
			}
			response.Providers[name] = provider
		}

		w.Header().Set("Content-Type", "application/json")
		if overall == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// MetricsHandler returns the Prometheus scrape handler. Meaningful only
// when the prometheus metrics exporter is active, since that is what
// feeds the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RegisterHandlers registers the health endpoints on the given mux:
// /healthz (liveness), /readyz (readiness), /health (detailed status).
func RegisterHandlers(mux *http.ServeMux, m *Monitor) {
	mux.HandleFunc("/healthz", LivenessHandler())
	mux.HandleFunc("/readyz", ReadinessHandler(m))
	mux.HandleFunc("/health", StatusHandler(m))
}
