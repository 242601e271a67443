// Package ports declares the service-level interfaces the router,
// admin surface and HTTP API depend on. Concrete implementations live
// under internal/{pool,breaker,health,registry,fault,router,worker}.
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/olla-project/inforoute/internal/core/domain"
)

// Router dispatches a unified request to the best available upstream,
// retrying across candidates per the failover algorithm.
type Router interface {
	Route(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error)
	RouteStream(ctx context.Context, req *domain.InferenceRequest) (domain.StreamReader, error)
	RouteEmbeddings(ctx context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error)
	Stats() RouterStats
}

// RouterStats is a point-in-time snapshot of routing activity, the Go
// analogue of the original get_stats() call.
type RouterStats struct {
	TotalRequests   uint64
	TotalFailures   uint64
	TotalRetries    uint64
	ByEngine        map[domain.EngineType]uint64
}

// ConnectionPool hands out bounded, reusable HTTP transports per
// upstream so no single engine can exhaust file descriptors for the
// others.
type ConnectionPool interface {
	Acquire(ctx context.Context, up domain.Upstream) (Lease, error)
	Stats(up domain.Upstream) PoolStats
	Close() error
}

// Lease is one checked-out connection slot; Release must be called
// exactly once, regardless of whether the request it backed succeeded.
type Lease interface {
	Client() *http.Client
	Release()
}

type PoolStats struct {
	InUse     int
	Capacity  int
	Available int64
	WaitCount uint64
}

// Breaker is the per-upstream three-state circuit breaker.
type Breaker interface {
	Allow(up domain.Upstream) bool
	RecordSuccess(up domain.Upstream)
	RecordFailure(up domain.Upstream)
	State(up domain.Upstream) BreakerState
}

// BreakerState names the three states of one upstream's breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// HealthMonitor owns the periodic probe schedule and the cached
// UpstreamHealth readable by the Router on every candidate filter.
type HealthMonitor interface {
	Start(ctx context.Context)
	Stop()
	Get(up domain.Upstream) (domain.UpstreamHealth, bool)
	CheckAll(ctx context.Context) map[domain.Upstream]domain.HealthCheckResult
	MarkUnhealthy(up domain.Upstream, quarantine time.Duration)
}

// ModelRegistry resolves a model_id + required capability to an
// ordered set of candidate entries.
type ModelRegistry interface {
	Register(entry *domain.ModelEntry) error
	Resolve(modelID string, cap domain.Capability) ([]*domain.ModelEntry, error)
	All() []*domain.ModelEntry
}

// FaultDomainManager owns the kill switch, degradation level and
// service-isolation set consulted before every dispatch.
type FaultDomainManager interface {
	KillSwitchEnabled() bool
	SetKillSwitch(enabled bool)

	DegradationLevel() domain.DegradationLevel
	SetDegradationLevel(level domain.DegradationLevel)

	Isolate(up domain.Upstream)
	Unisolate(up domain.Upstream)
	IsIsolated(up domain.Upstream) bool

	FeatureAllowed(f domain.FeatureTag) bool
}

// JobQueue accepts deferred work for the optional Job Worker.
type JobQueue interface {
	Submit(ctx context.Context, job *domain.Job) error
	Get(id string) (*domain.Job, bool)
	Cancel(id string) bool
}
