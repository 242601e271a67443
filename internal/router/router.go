// Package router implements the core dispatch algorithm: candidate
// resolution, health/isolation/breaker filtering, priority +
// round-robin selection, and retry/failover across the surviving
// candidate set.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
	"github.com/olla-project/inforoute/internal/logger"
	"github.com/olla-project/inforoute/internal/util"
)

const (
	DefaultMaxRetries     = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultQuarantine     = 30 * time.Second
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay  = 2 * time.Second
	DefaultRetryJitter    = 0.2
)

// Config tunes one Router instance.
type Config struct {
	MaxRetries     int
	AttemptTimeout time.Duration
	Quarantine     time.Duration

	// RetryBaseDelay/RetryMaxDelay/RetryJitter feed
	// util.CalculateExponentialBackoff between failed attempts so a
	// flapping upstream doesn't get hammered at full request rate
	// during failover.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		AttemptTimeout: DefaultAttemptTimeout,
		Quarantine:     DefaultQuarantine,
		RetryBaseDelay: DefaultRetryBaseDelay,
		RetryMaxDelay:  DefaultRetryMaxDelay,
		RetryJitter:    DefaultRetryJitter,
	}
}

// waitBeforeRetry sleeps for the exponential backoff interval for the
// given attempt number (1-indexed), returning early if ctx is done.
func (r *Router) waitBeforeRetry(ctx context.Context, attempt int) error {
	delay := util.CalculateExponentialBackoff(attempt, r.cfg.RetryBaseDelay, r.cfg.RetryMaxDelay, r.cfg.RetryJitter)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Router implements ports.Router.
type Router struct {
	cfg      Config
	log      *slog.Logger
	styled   *logger.StyledLogger
	registry ports.ModelRegistry
	breaker  ports.Breaker
	health   ports.HealthMonitor
	fault    ports.FaultDomainManager

	rrCounters sync.Map // model_id -> *atomic.Uint64

	requests atomic.Uint64
	failures atomic.Uint64
	retries  atomic.Uint64
	byEngine sync.Map // domain.EngineType -> *atomic.Uint64
}

func New(cfg Config, log *slog.Logger, registry ports.ModelRegistry, breaker ports.Breaker, healthMon ports.HealthMonitor, faultMgr ports.FaultDomainManager) *Router {
	return &Router{
		cfg:      cfg,
		log:      log,
		registry: registry,
		breaker:  breaker,
		health:   healthMon,
		fault:    faultMgr,
	}
}

// WithStyledLogger attaches a theme-aware logger used for the
// human-facing failure line recordFailure emits; Router works fine
// without one (styled stays nil and that line is simply skipped).
func (r *Router) WithStyledLogger(styled *logger.StyledLogger) *Router {
	r.styled = styled
	return r
}

func (r *Router) rrCounter(modelID string) *atomic.Uint64 {
	v, _ := r.rrCounters.LoadOrStore(modelID, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

// preflight runs the checks common to Route/RouteStream/RouteEmbeddings
// before any candidate is touched: kill switch, degradation gating,
// and registry resolution.
func (r *Router) preflight(req *domain.InferenceRequest, capability domain.Capability) ([]*domain.ModelEntry, error) {
	if r.fault.KillSwitchEnabled() {
		return nil, domain.ErrKillSwitchEnabled
	}
	if tag, gated := domain.FeatureForCapability(capability); gated && !r.fault.FeatureAllowed(tag) {
		return nil, domain.ErrFeatureDegraded
	}
	entries, err := r.registry.Resolve(req.ModelID, capability)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// filterCandidates drops isolated and quarantined/breaker-open
// entries; if that empties the set, it falls back to the first raw
// entry as a last-resort attempt per the spec's step 5.
func (r *Router) filterCandidates(entries []*domain.ModelEntry) []*domain.ModelEntry {
	now := time.Now()
	filtered := make([]*domain.ModelEntry, 0, len(entries))
	for _, e := range entries {
		up := e.Upstream()
		if r.fault.IsIsolated(up) {
			continue
		}
		if r.breaker.State(up) == ports.BreakerOpen {
			if h, ok := r.health.Get(up); ok && h.Quarantined(now) {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	if len(filtered) == 0 && len(entries) > 0 {
		return []*domain.ModelEntry{entries[0]}
	}
	return filtered
}

// selectEntry picks one entry from candidates: highest priority tier,
// then round-robin within that tier, with a lexicographic tie-break
// for deterministic replay when health is otherwise equal.
func (r *Router) selectEntry(modelID string, candidates []*domain.ModelEntry) *domain.ModelEntry {
	if len(candidates) == 0 {
		return nil
	}
	maxPriority := candidates[0].Priority
	for _, c := range candidates[1:] {
		if c.Priority > maxPriority {
			maxPriority = c.Priority
		}
	}
	tier := make([]*domain.ModelEntry, 0, len(candidates))
	for _, c := range candidates {
		if c.Priority == maxPriority {
			tier = append(tier, c)
		}
	}
	sort.SliceStable(tier, func(i, j int) bool {
		return tier[i].Upstream().Key() < tier[j].Upstream().Key()
	})

	idx := r.rrCounter(modelID).Add(1) - 1
	return tier[idx%uint64(len(tier))]
}

func removeEntry(candidates []*domain.ModelEntry, target *domain.ModelEntry) []*domain.ModelEntry {
	out := make([]*domain.ModelEntry, 0, len(candidates))
	for _, c := range candidates {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

func (r *Router) countByEngine(engine domain.EngineType) {
	v, _ := r.byEngine.LoadOrStore(engine, &atomic.Uint64{})
	v.(*atomic.Uint64).Add(1)
}

func (r *Router) recordFailure(entry *domain.ModelEntry) {
	up := entry.Upstream()
	r.breaker.RecordFailure(up)
	r.health.MarkUnhealthy(up, r.cfg.Quarantine)
	if r.styled != nil {
		r.styled.WarnWithEndpoint("upstream call failed, quarantining", up.String())
	}
}

// Route implements the full retry/failover algorithm described for
// non-streaming dispatch.
func (r *Router) Route(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
	r.requests.Add(1)

	capability := req.RequiredCapability()
	entries, err := r.preflight(req, capability)
	if err != nil {
		r.failures.Add(1)
		return nil, err
	}

	candidates := r.filterCandidates(entries)
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.cfg.MaxRetries && len(candidates) > 0; attempt++ {
		attempts++
		entry := r.selectEntry(req.ModelID, candidates)
		if entry == nil {
			break
		}

		resp, callErr := r.callOnce(ctx, entry, req)
		if callErr == nil {
			r.breaker.RecordSuccess(entry.Upstream())
			r.countByEngine(entry.EngineType)
			resp.Engine = entry.EngineType.String()
			return resp, nil
		}

		lastErr = callErr
		if domain.IsPermanent(callErr) {
			r.failures.Add(1)
			return nil, callErr
		}

		r.recordFailure(entry)
		candidates = removeEntry(candidates, entry)
		if attempt < r.cfg.MaxRetries {
			r.retries.Add(1)
			if waitErr := r.waitBeforeRetry(ctx, attempt+1); waitErr != nil {
				lastErr = waitErr
				break
			}
		}
	}

	r.failures.Add(1)
	if lastErr == nil {
		lastErr = domain.ErrNoEngineAvailable
	}
	return nil, domain.NewRouteError(req.ModelID, "", attempts, errors.Join(domain.ErrAllEnginesFailed, lastErr))
}

func (r *Router) callOnce(ctx context.Context, entry *domain.ModelEntry, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
	up := entry.Upstream()
	if !r.breaker.Allow(up) {
		return nil, domain.ErrBreakerOpen
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	resp, err := entry.Adapter.Generate(attemptCtx, req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrTimeout
		}
		return nil, err
	}
	return resp, nil
}

// RouteStream makes at most one attempt: streams are not transparently
// retried because chunks may already have been surfaced to the caller.
func (r *Router) RouteStream(ctx context.Context, req *domain.InferenceRequest) (domain.StreamReader, error) {
	r.requests.Add(1)

	entries, err := r.preflight(req, domain.CapabilityStreaming)
	if err != nil {
		r.failures.Add(1)
		return nil, err
	}

	candidates := r.filterCandidates(entries)
	entry := r.selectEntry(req.ModelID, candidates)
	if entry == nil {
		r.failures.Add(1)
		return nil, domain.ErrNoEngineAvailable
	}

	up := entry.Upstream()
	if !r.breaker.Allow(up) {
		r.failures.Add(1)
		return nil, domain.ErrBreakerOpen
	}

	stream, err := entry.Adapter.Stream(ctx, req)
	if err != nil {
		r.recordFailure(entry)
		r.failures.Add(1)
		return nil, err
	}
	r.countByEngine(entry.EngineType)
	return &trackingStream{inner: stream, router: r, entry: entry}, nil
}

// trackingStream wraps the adapter's StreamReader so the breaker and
// health cache observe mid-stream failures without the Router
// retrying (stream retries are explicitly out of scope).
type trackingStream struct {
	inner   domain.StreamReader
	router  *Router
	entry   *domain.ModelEntry
	closed  bool
	started bool
}

func (s *trackingStream) Next(ctx context.Context) (domain.StreamChunk, bool, error) {
	chunk, ok, err := s.inner.Next(ctx)
	if err != nil {
		s.router.recordFailure(s.entry)
		if s.started {
			return domain.StreamChunk{}, false, domain.ErrStreamInterrupted
		}
		return domain.StreamChunk{}, false, err
	}
	if ok {
		s.started = true
	} else {
		s.router.breaker.RecordSuccess(s.entry.Upstream())
	}
	return chunk, ok, nil
}

func (s *trackingStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.inner.Close()
}

// RouteEmbeddings mirrors Route's retry loop but dispatches to
// Adapter.Embeddings; embeddings are not chunked so full retry applies.
func (r *Router) RouteEmbeddings(ctx context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	r.requests.Add(1)

	entries, err := r.registry.Resolve(req.ModelID, domain.CapabilityEmbedding)
	if err != nil {
		r.failures.Add(1)
		return nil, err
	}
	if r.fault.KillSwitchEnabled() {
		r.failures.Add(1)
		return nil, domain.ErrKillSwitchEnabled
	}
	if !r.fault.FeatureAllowed(domain.FeatureEmbedding) {
		r.failures.Add(1)
		return nil, domain.ErrFeatureDegraded
	}

	candidates := r.filterCandidates(entries)
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.cfg.MaxRetries && len(candidates) > 0; attempt++ {
		attempts++
		entry := r.selectEntry(req.ModelID, candidates)
		if entry == nil {
			break
		}
		up := entry.Upstream()
		if !r.breaker.Allow(up) {
			lastErr = domain.ErrBreakerOpen
			candidates = removeEntry(candidates, entry)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		resp, callErr := entry.Adapter.Embeddings(attemptCtx, req.Input, req.ModelID)
		cancel()

		if callErr == nil {
			r.breaker.RecordSuccess(up)
			r.countByEngine(entry.EngineType)
			return resp, nil
		}
		lastErr = callErr
		if domain.IsPermanent(callErr) {
			r.failures.Add(1)
			return nil, callErr
		}
		r.recordFailure(entry)
		candidates = removeEntry(candidates, entry)
		if attempt < r.cfg.MaxRetries && len(candidates) > 0 {
			r.retries.Add(1)
			if waitErr := r.waitBeforeRetry(ctx, attempt+1); waitErr != nil {
				lastErr = waitErr
				break
			}
		}
	}

	r.failures.Add(1)
	if lastErr == nil {
		lastErr = domain.ErrNoEngineAvailable
	}
	return nil, domain.NewRouteError(req.ModelID, "", attempts, errors.Join(domain.ErrAllEnginesFailed, lastErr))
}

func (r *Router) Stats() ports.RouterStats {
	byEngine := make(map[domain.EngineType]uint64)
	r.byEngine.Range(func(k, v interface{}) bool {
		byEngine[k.(domain.EngineType)] = v.(*atomic.Uint64).Load()
		return true
	})
	return ports.RouterStats{
		TotalRequests: r.requests.Load(),
		TotalFailures: r.failures.Load(),
		TotalRetries:  r.retries.Load(),
		ByEngine:      byEngine,
	}
}
