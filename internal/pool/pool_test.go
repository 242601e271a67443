package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olla-project/inforoute/internal/core/domain"
)

func testUpstream(endpoint string) domain.Upstream {
	return domain.Upstream{EngineType: domain.EngineVLLM, Endpoint: endpoint}
}

func TestAcquireRelease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnsPerHost = 2
	p := New(cfg)
	defer p.Close()

	up := testUpstream("http://vllm-1:8000")

	l1, err := p.Acquire(context.Background(), up)
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background(), up)
	require.NoError(t, err)

	stats := p.Stats(up)
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, 2, stats.Capacity)

	l1.Release()
	l2.Release()

	stats = p.Stats(up)
	assert.Equal(t, 0, stats.InUse)
}

func TestAcquireExhaustedReturnsErrPoolExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnsPerHost = 1
	p := New(cfg)
	defer p.Close()

	up := testUpstream("http://vllm-1:8000")

	l1, err := p.Acquire(context.Background(), up)
	require.NoError(t, err)
	defer l1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx, up)
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)

	stats := p.Stats(up)
	assert.Equal(t, uint64(1), stats.WaitCount)
}

func TestPoolsAreIsolatedPerUpstream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnsPerHost = 1
	p := New(cfg)
	defer p.Close()

	upA := testUpstream("http://vllm-1:8000")
	upB := testUpstream("http://vllm-2:8000")

	lA, err := p.Acquire(context.Background(), upA)
	require.NoError(t, err)
	defer lA.Release()

	lB, err := p.Acquire(context.Background(), upB)
	require.NoError(t, err)
	defer lB.Release()

	assert.Equal(t, 1, p.Stats(upA).InUse)
	assert.Equal(t, 1, p.Stats(upB).InUse)
}
