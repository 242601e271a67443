package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds from the taxonomy. The Router dispatches its
// retry loop on these via errors.Is/errors.As, never on a type
// hierarchy.
var (
	ErrNoEngineAvailable  = errors.New("no engine available for model")
	ErrKillSwitchEnabled  = errors.New("kill switch enabled")
	ErrFeatureDegraded    = errors.New("feature disabled at current degradation level")
	ErrBreakerOpen        = errors.New("circuit breaker open")
	ErrTimeout            = errors.New("upstream call timed out")
	ErrTransport          = errors.New("transport error")
	ErrProtocol           = errors.New("protocol error")
	ErrUnsupported        = errors.New("operation not supported by adapter")
	ErrCancelled          = errors.New("request cancelled")
	ErrPoolExhausted      = errors.New("connection pool exhausted")
	ErrQueueFull          = errors.New("job queue full")
	ErrAllEnginesFailed   = errors.New("all candidate engines failed")
	ErrStreamInterrupted  = errors.New("stream interrupted")
)

// ValidationError reports a malformed InferenceRequest field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request field %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a non-2xx HTTP response from an upstream engine.
// Status >= 500 is Transient; 400-499 is Permanent.
type UpstreamError struct {
	Upstream Upstream
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d: %s", e.Upstream, e.Status, e.Body)
}

func (e *UpstreamError) Transient() bool {
	return e.Status >= 500
}

func (e *UpstreamError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500
}

// AdapterError wraps any adapter-level failure with its classification
// and the upstream it came from, so the Router can log/attribute it
// without re-deriving the kind from the wrapped error.
type AdapterError struct {
	Err      error
	Upstream Upstream
	Kind     error // one of the Err* sentinels above
	Attempt  int
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter error on %s (attempt %d): %v", e.Upstream, e.Attempt, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

func (e *AdapterError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// IsTransient classifies an error for the Router's retry policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransport),
		errors.Is(err, ErrBreakerOpen),
		errors.Is(err, ErrPoolExhausted):
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	return false
}

// IsPermanent classifies an error that must never be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProtocol) || errors.Is(err, ErrUnsupported) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Permanent()
	}
	return false
}

// RouteError is returned by Route/RouteStream when every candidate
// has been exhausted; it carries the attempt count and last error as
// required by the propagation policy.
type RouteError struct {
	Err      error
	ModelID  string
	Engine   string
	Attempts int
	At       time.Time
}

func (e *RouteError) Error() string {
	if e.Engine != "" {
		return fmt.Sprintf("route %s failed after %d attempt(s), last engine %s: %v", e.ModelID, e.Attempts, e.Engine, e.Err)
	}
	return fmt.Sprintf("route %s failed after %d attempt(s): %v", e.ModelID, e.Attempts, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

func NewRouteError(modelID, engine string, attempts int, err error) *RouteError {
	return &RouteError{
		ModelID:  modelID,
		Engine:   engine,
		Attempts: attempts,
		Err:      err,
		At:       time.Now(),
	}
}
