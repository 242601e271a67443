// Package health implements the periodic, heap-scheduled prober that
// maintains the cached UpstreamHealth consulted by the Router on every
// candidate filter.
package health

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/logger"
	"github.com/olla-project/inforoute/internal/util"
)

const (
	DefaultWorkerCount       = 10
	DefaultQueueScaleFactor  = 2
	DefaultBaseQueueSize     = 64
	DefaultCheckTimeout      = 5 * time.Second
	DefaultCheckInterval     = 10 * time.Second
	DefaultUnhealthyAfter    = 3 // consecutive failures
	DefaultHealthyAfter      = 2 // consecutive successes
	DefaultQuarantineWindow  = 30 * time.Second
	schedulerTick            = 100 * time.Millisecond
)

// Config tunes the monitor's probe cadence and flap thresholds.
type Config struct {
	WorkerCount      int
	CheckTimeout     time.Duration
	CheckInterval    time.Duration
	UnhealthyAfter   int
	HealthyAfter     int
	QuarantineWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:      DefaultWorkerCount,
		CheckTimeout:     DefaultCheckTimeout,
		CheckInterval:    DefaultCheckInterval,
		UnhealthyAfter:   DefaultUnhealthyAfter,
		HealthyAfter:     DefaultHealthyAfter,
		QuarantineWindow: DefaultQuarantineWindow,
	}
}

type scheduledCheck struct {
	adapter domain.Adapter
	dueTime time.Time
}

type checkHeap []*scheduledCheck

func (h checkHeap) Len() int            { return len(h) }
func (h checkHeap) Less(i, j int) bool  { return h[i].dueTime.Before(h[j].dueTime) }
func (h checkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *checkHeap) Push(x interface{}) { *h = append(*h, x.(*scheduledCheck)) }
func (h *checkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

type probeJob struct {
	adapter domain.Adapter
}

// Monitor implements ports.HealthMonitor.
type Monitor struct {
	cfg      Config
	log      *slog.Logger
	styled   *logger.StyledLogger
	adapters []domain.Adapter
	cache    xsync.Map[string, *domain.UpstreamHealth]

	heapInst *checkHeap
	heapMu   sync.Mutex

	jobCh   chan probeJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func New(cfg Config, log *slog.Logger, adapters []domain.Adapter) *Monitor {
	h := &checkHeap{}
	heap.Init(h)
	return &Monitor{
		cfg:      cfg,
		log:      log,
		adapters: adapters,
		cache:    *xsync.NewMap[string, *domain.UpstreamHealth](),
		heapInst: h,
	}
}

// WithStyledLogger attaches a theme-aware logger used to announce
// upstream status transitions; Monitor works fine without one.
func (m *Monitor) WithStyledLogger(styled *logger.StyledLogger) *Monitor {
	m.styled = styled
	return m
}

func upstreamOf(a domain.Adapter) domain.Upstream {
	return domain.Upstream{EngineType: a.EngineType(), Endpoint: a.Endpoint()}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	queueSize := len(m.adapters) * DefaultQueueScaleFactor
	if queueSize < DefaultBaseQueueSize {
		queueSize = DefaultBaseQueueSize
	}
	m.jobCh = make(chan probeJob, queueSize)
	m.stopCh = make(chan struct{})
	m.running = true

	now := time.Now()
	m.heapMu.Lock()
	for _, a := range m.adapters {
		m.cache.Store(upstreamOf(a).Key(), &domain.UpstreamHealth{
			Upstream: upstreamOf(a),
			Status:   domain.StatusStarting,
		})
		heap.Push(m.heapInst, &scheduledCheck{adapter: a, dueTime: now})
	}
	m.heapMu.Unlock()

	for i := 0; i < m.cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.wg.Add(1)
	go m.schedulerLoop(ctx)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
}

func (m *Monitor) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case job := <-m.jobCh:
			m.runProbe(ctx, job.adapter)
		}
	}
}

func (m *Monitor) runProbe(ctx context.Context, a domain.Adapter) {
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	result, err := a.HealthCheck(checkCtx)
	up := upstreamOf(a)

	existing, _ := m.cache.Load(up.Key())
	if existing == nil {
		existing = &domain.UpstreamHealth{Upstream: up}
	}
	updated := *existing

	if err == nil && result.Status.IsRoutable() {
		updated.ConsecutiveSuccesses++
		updated.ConsecutiveFailures = 0
		if updated.ConsecutiveSuccesses >= m.cfg.HealthyAfter || updated.Status == domain.StatusStarting {
			updated.Status = result.Status
		}
	} else {
		updated.ConsecutiveFailures++
		updated.ConsecutiveSuccesses = 0
		if updated.ConsecutiveFailures >= m.cfg.UnhealthyAfter {
			updated.Status = domain.StatusUnhealthy
		}
	}
	updated.LastCheck = time.Now()
	updated.Extra = result.Extra
	if len(result.ModelsLoaded) > 0 {
		set := make(map[string]struct{}, len(result.ModelsLoaded))
		for _, id := range result.ModelsLoaded {
			set[id] = struct{}{}
		}
		updated.ModelsLoaded = set
	}
	if m.styled != nil && updated.Status != existing.Status {
		m.styled.InfoHealthStatus("upstream status changed", up.String(), updated.Status)
	}
	m.cache.Store(up.Key(), &updated)

	if err != nil {
		m.log.Debug("probe failed", "upstream", up.String(), "error", err,
			"consecutive_failures", util.SafeUint64(int64(updated.ConsecutiveFailures)))
	}

	// A repeatedly-failing upstream is probed less often: the interval
	// grows with its consecutive-failure count rather than staying
	// fixed, so a dead endpoint doesn't keep a worker busy every tick.
	interval := m.cfg.CheckInterval
	if updated.ConsecutiveFailures > 0 {
		interval = util.CalculateEndpointBackoff(m.cfg.CheckInterval, updated.ConsecutiveFailures)
	}

	m.heapMu.Lock()
	heap.Push(m.heapInst, &scheduledCheck{adapter: a, dueTime: time.Now().Add(interval)})
	m.heapMu.Unlock()
}

func (m *Monitor) schedulerLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.heapMu.Lock()
			for m.heapInst.Len() > 0 {
				next := (*m.heapInst)[0]
				if now.Before(next.dueTime) {
					break
				}
				check := heap.Pop(m.heapInst).(*scheduledCheck)
				select {
				case m.jobCh <- probeJob{adapter: check.adapter}:
				default:
					check.dueTime = now.Add(time.Second)
					heap.Push(m.heapInst, check)
				}
			}
			m.heapMu.Unlock()
		}
	}
}

func (m *Monitor) Get(up domain.Upstream) (domain.UpstreamHealth, bool) {
	h, ok := m.cache.Load(up.Key())
	if !ok {
		return domain.UpstreamHealth{}, false
	}
	return *h, true
}

// CheckAll runs every adapter's health check synchronously and returns
// a full snapshot, the Go analogue of the original health_check_all
// asyncio.gather sweep.
func (m *Monitor) CheckAll(ctx context.Context) map[domain.Upstream]domain.HealthCheckResult {
	results := make(map[domain.Upstream]domain.HealthCheckResult, len(m.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, a := range m.adapters {
		wg.Add(1)
		go func(a domain.Adapter) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
			defer cancel()
			result, _ := a.HealthCheck(checkCtx)
			mu.Lock()
			results[upstreamOf(a)] = result
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return results
}

// MarkUnhealthy is called by the Router on an observed failure outside
// the probe cycle, suppressing immediate reselection of up.
func (m *Monitor) MarkUnhealthy(up domain.Upstream, quarantine time.Duration) {
	existing, _ := m.cache.Load(up.Key())
	updated := domain.UpstreamHealth{Upstream: up}
	if existing != nil {
		updated = *existing
	}
	updated.Status = domain.StatusUnhealthy
	updated.QuarantineUntil = time.Now().Add(quarantine)
	m.cache.Store(up.Key(), &updated)
}
