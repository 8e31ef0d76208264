package gemini

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jonwraymond/visionops/fault"
	"google.golang.org/genai"
)

// retryInfoType is the proto type URL rate limit responses use for
// their retry hint detail.
const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// mapErr tags an SDK error with the fault kind the classifier and the
// provider fallback route on.
func mapErr(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.Code, apiErr.Message)
		fe := fault.Wrap(kind, "gemini", op, err).WithStatus(apiErr.Code)
		if kind == fault.KindRateLimit {
			if delay, ok := retryDelay(apiErr); ok {
				fe = fe.WithRetryAfter(delay)
			}
		}
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTimeout, "gemini", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fault.Wrap(fault.KindTimeout, "gemini", op, err)
		}
		return fault.Wrap(fault.KindNetwork, "gemini", op, err)
	}

	return fault.Wrap(fault.KindUnknown, "gemini", op, err)
}

// kindForStatus maps an HTTP status to a fault kind. A 400 that
// mentions the API key is an auth failure wearing a client-error
// status.
func kindForStatus(code int, message string) fault.Kind {
	switch {
	case code == 401 || code == 403:
		return fault.KindAuth
	case code == 400 && strings.Contains(strings.ToLower(message), "api key"):
		return fault.KindAuth
	case code == 400 || code == 404:
		return fault.KindClient
	case code == 408:
		return fault.KindTimeout
	case code == 429:
		return fault.KindRateLimit
	case code >= 500:
		return fault.KindServer
	default:
		return fault.KindUnknown
	}
}

// retryDelay extracts the server's retry hint from a rate limit
// error, when one is present.
func retryDelay(apiErr genai.APIError) (time.Duration, bool) {
	for _, detail := range apiErr.Details {
		if detail["@type"] != retryInfoType {
			continue
		}
		hint, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(hint); err == nil && d > 0 {
			return d, true
		}
	}
	return 0, false
}
