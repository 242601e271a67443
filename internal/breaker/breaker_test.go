package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
)

func testUpstream() domain.Upstream {
	return domain.Upstream{EngineType: domain.EngineTGI, Endpoint: "http://tgi-1:8080"}
}

func TestClosedTripsToOpenAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	b := New(cfg)
	up := testUpstream()

	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow(up))
		b.RecordFailure(up)
		assert.Equal(t, ports.BreakerClosed, b.State(up))
	}

	assert.True(t, b.Allow(up))
	b.RecordFailure(up)
	assert.Equal(t, ports.BreakerOpen, b.State(up))
	assert.False(t, b.Allow(up))
}

func TestSuccessResetsFailureCountWhileClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	b := New(cfg)
	up := testUpstream()

	b.RecordFailure(up)
	b.RecordSuccess(up)
	b.RecordFailure(up)
	assert.Equal(t, ports.BreakerClosed, b.State(up))
}

func TestOpenTransitionsToHalfOpenAfterRecoveryTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cfg.HalfOpenMaxCalls = 2
	b := New(cfg)
	up := testUpstream()

	b.RecordFailure(up)
	assert.Equal(t, ports.BreakerOpen, b.State(up))
	assert.False(t, b.Allow(up))

	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.Allow(up))
	assert.Equal(t, ports.BreakerHalfOpen, b.State(up))
}

func TestHalfOpenAdmitsBoundedCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 1 * time.Millisecond
	cfg.HalfOpenMaxCalls = 2
	b := New(cfg)
	up := testUpstream()

	b.RecordFailure(up)
	time.Sleep(5 * time.Millisecond)

	assert.True(t, b.Allow(up))  // admits first half-open call
	assert.True(t, b.Allow(up))  // admits second half-open call
	assert.False(t, b.Allow(up)) // exceeds half_open_max_calls
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 1 * time.Millisecond
	cfg.HalfOpenMaxCalls = 2
	b := New(cfg)
	up := testUpstream()

	b.RecordFailure(up)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow(up))

	b.RecordFailure(up)
	assert.Equal(t, ports.BreakerOpen, b.State(up))
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 1 * time.Millisecond
	cfg.HalfOpenMaxCalls = 3
	cfg.SuccessThreshold = 2
	b := New(cfg)
	up := testUpstream()

	b.RecordFailure(up)
	time.Sleep(5 * time.Millisecond)

	assert.True(t, b.Allow(up))
	b.RecordSuccess(up)
	assert.Equal(t, ports.BreakerHalfOpen, b.State(up))

	assert.True(t, b.Allow(up))
	b.RecordSuccess(up)
	assert.Equal(t, ports.BreakerClosed, b.State(up))
}

func TestUnknownUpstreamDefaultsClosed(t *testing.T) {
	b := New(DefaultConfig())
	up := testUpstream()
	assert.Equal(t, ports.BreakerClosed, b.State(up))
	assert.True(t, b.Allow(up))
}
