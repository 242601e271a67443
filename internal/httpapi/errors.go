package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/olla-project/inforoute/internal/core/domain"
)

// errorWire is the JSON body written for any failed request, loosely
// following the OpenAI error envelope ({"error": {"message", "type"}}).
type errorWire struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// statusForError maps a taxonomy error (spec.md §7) onto an HTTP
// status code and a short type tag for the response body.
func statusForError(err error) (int, string) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "invalid_request"
	}

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		if ue.Permanent() {
			return http.StatusBadGateway, "upstream_error"
		}
		return http.StatusServiceUnavailable, "upstream_error"
	}

	switch {
	case errors.Is(err, domain.ErrKillSwitchEnabled):
		return http.StatusServiceUnavailable, "kill_switch_enabled"
	case errors.Is(err, domain.ErrFeatureDegraded):
		return http.StatusServiceUnavailable, "feature_degraded"
	case errors.Is(err, domain.ErrNoEngineAvailable):
		return http.StatusServiceUnavailable, "no_engine_available"
	case errors.Is(err, domain.ErrAllEnginesFailed):
		return http.StatusBadGateway, "all_engines_failed"
	case errors.Is(err, domain.ErrBreakerOpen):
		return http.StatusServiceUnavailable, "breaker_open"
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	case errors.Is(err, domain.ErrPoolExhausted), errors.Is(err, domain.ErrQueueFull):
		return http.StatusServiceUnavailable, "saturated"
	case errors.Is(err, domain.ErrCancelled):
		return 499, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorWire{Error: errorBody{Message: err.Error(), Type: kind}})
}
