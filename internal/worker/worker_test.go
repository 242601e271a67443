package worker

import (
	"context"
	"testing"
	"time"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string, priority domain.JobPriority) *domain.Job {
	return &domain.Job{
		ID:       id,
		Priority: priority,
		Request:  &domain.InferenceRequest{ModelID: "m", Prompt: "hi", MaxTokens: 8, TopP: 1},
		SubmitAt: time.Now(),
	}
}

func TestSubmitAndCompleteJob(t *testing.T) {
	q := New(DefaultConfig(), func(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
		return &domain.InferenceResponse{ID: "r1", Model: req.ModelID}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)
	defer q.Stop()

	job := newJob("job-1", domain.JobPriorityNormal)
	require.NoError(t, q.Submit(ctx, job))

	require.Eventually(t, func() bool {
		got, ok := q.Get("job-1")
		return ok && got.Status.Terminal()
	}, time.Second, 5*time.Millisecond)

	got, ok := q.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, "r1", got.Result.ID)
}

func TestQueueFullReturnsErrQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	q := New(Config{Concurrency: 1, QueueSize: 1}, func(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
		<-blocked
		return &domain.InferenceResponse{}, nil
	})
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Submit(ctx, newJob("a", domain.JobPriorityNormal)))
	require.Eventually(t, func() bool {
		got, ok := q.Get("a")
		return ok && got.Status == domain.JobRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Submit(ctx, newJob("b", domain.JobPriorityNormal)))
	err := q.Submit(ctx, newJob("c", domain.JobPriorityNormal))
	require.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestCancelPendingJob(t *testing.T) {
	blocked := make(chan struct{})
	q := New(Config{Concurrency: 1, QueueSize: 4}, func(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
		<-blocked
		return &domain.InferenceResponse{}, nil
	})
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Submit(ctx, newJob("running", domain.JobPriorityNormal)))
	require.Eventually(t, func() bool {
		got, ok := q.Get("running")
		return ok && got.Status == domain.JobRunning
	}, time.Second, 5*time.Millisecond)

	pending := newJob("pending", domain.JobPriorityLow)
	require.NoError(t, q.Submit(ctx, pending))
	assert.True(t, q.Cancel("pending"))
	_, ok := q.Get("pending")
	assert.False(t, ok)
}

func TestHighPriorityDrainsBeforeLow(t *testing.T) {
	var order []string
	done := make(chan struct{})
	q := New(Config{Concurrency: 1, QueueSize: 8}, func(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
		order = append(order, req.ModelID)
		if len(order) == 3 {
			close(done)
		}
		return &domain.InferenceResponse{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	low := newJob("low", domain.JobPriorityLow)
	low.Request.ModelID = "low"
	normal := newJob("normal", domain.JobPriorityNormal)
	normal.Request.ModelID = "normal"
	high := newJob("high", domain.JobPriorityHigh)
	high.Request.ModelID = "high"

	require.NoError(t, q.Submit(ctx, low))
	require.NoError(t, q.Submit(ctx, normal))
	require.NoError(t, q.Submit(ctx, high))

	go q.Start(ctx)
	defer q.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs did not drain in time")
	}

	assert.Equal(t, []string{"high", "normal", "low"}, order)
}
