// Package worker implements the optional Job Worker: a priority queue
// of submitted inference jobs drained by a bounded pool of goroutines,
// each dispatching through the Router.
package worker

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
)

const (
	DefaultConcurrency = 8
	DefaultQueueSize   = 256
)

type Config struct {
	Concurrency int
	QueueSize   int
}

func DefaultConfig() Config {
	return Config{Concurrency: DefaultConcurrency, QueueSize: DefaultQueueSize}
}

// Handler executes one job's request against the Router and returns
// its result.
type Handler func(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error)

// jobItem is one entry in the priority heap. seq breaks ties so jobs
// of equal priority drain in submission order (FIFO within a tier).
type jobItem struct {
	job *domain.Job
	idx int
}

type jobHeap []*jobItem

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority // High (2) before Low (0)
	}
	return h[i].job.Seq() < h[j].job.Seq()
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *jobHeap) Push(x any) {
	item := x.(*jobItem)
	item.idx = len(*h)
	*h = append(*h, item)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.idx = -1
	*h = old[:n-1]
	return item
}

// Queue is the priority job queue plus the worker pool draining it.
// It satisfies ports.JobQueue.
type Queue struct {
	cfg     Config
	handler Handler

	mu     sync.Mutex
	heap   jobHeap
	byID   map[string]*jobItem
	seqGen uint64
	notify chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, handler Handler) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	q := &Queue{
		cfg:     cfg,
		handler: handler,
		byID:    make(map[string]*jobItem),
		notify:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	heap.Init(&q.heap)
	return q
}

// Start launches the draining loop. It returns once the context is
// cancelled or Stop is called; call it in its own goroutine.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	defer q.wg.Done()

	p := pool.New().WithMaxGoroutines(q.cfg.Concurrency)
	defer p.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-q.notify:
		}

		for {
			item, ok := q.dequeue()
			if !ok {
				break
			}
			job := item.job
			p.Go(func() {
				q.run(ctx, job)
			})
		}
	}
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context, job *domain.Job) {
	now := time.Now()
	if job.Expired(now) {
		job.Status = domain.JobCancelled
		return
	}

	job.Status = domain.JobRunning
	job.StartAt = now

	runCtx := ctx
	var cancel context.CancelFunc
	if !job.Deadline.IsZero() {
		runCtx, cancel = context.WithDeadline(ctx, job.Deadline)
		defer cancel()
	}

	result, err := q.handler(runCtx, job.Request)
	job.EndAt = time.Now()
	if err != nil {
		job.Status = domain.JobFailed
		job.Err = err
		return
	}
	job.Status = domain.JobCompleted
	job.Result = result
}

// Submit enqueues a job, returning domain.ErrQueueFull if the queue is
// at capacity.
func (q *Queue) Submit(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	if len(q.heap) >= q.cfg.QueueSize {
		q.mu.Unlock()
		return domain.ErrQueueFull
	}
	q.seqGen++
	job.SetSeq(q.seqGen)
	job.Status = domain.JobPending
	item := &jobItem{job: job}
	heap.Push(&q.heap, item)
	q.byID[job.ID] = item
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get returns the current snapshot of a submitted job.
func (q *Queue) Get(id string) (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	return item.job, true
}

// Cancel marks a still-pending job cancelled and removes it from the
// heap; it reports false for unknown jobs or jobs no longer pending.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok || item.idx < 0 || item.job.Status != domain.JobPending {
		return false
	}
	heap.Remove(&q.heap, item.idx)
	item.job.Status = domain.JobCancelled
	delete(q.byID, id)
	return true
}

func (q *Queue) dequeue() (*jobItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(*jobItem)
	return item, true
}

var _ ports.JobQueue = (*Queue)(nil)
