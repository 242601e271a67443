// Package breaker implements a per-upstream three-state circuit
// breaker (Closed/Open/HalfOpen), the generalisation of the teacher's
// two-state failures-counter breaker to admit a bounded number of
// half-open probes before fully closing again.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenMaxCalls = 3
	DefaultSuccessThreshold = 2
)

// Config tunes one Breaker instance; every upstream tracked by that
// instance shares the same thresholds.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	SuccessThreshold int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		HalfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

type state struct {
	// phase holds a ports.BreakerState value
	phase int32

	failures       int64
	successes      int64
	halfOpenInFlight int64
	lastFailureNs  int64
}

// Breaker implements ports.Breaker.
type Breaker struct {
	cfg    Config
	states xsync.Map[string, *state]
}

func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:    cfg,
		states: *xsync.NewMap[string, *state](),
	}
}

func (b *Breaker) loadOrCreate(up domain.Upstream) *state {
	actual, _ := b.states.LoadOrStore(up.Key(), &state{phase: int32(ports.BreakerClosed)})
	return actual
}

// Allow decides whether a call against up may proceed, performing the
// Open -> HalfOpen transition on timeout expiry as a side effect.
func (b *Breaker) Allow(up domain.Upstream) bool {
	s := b.loadOrCreate(up)

	switch ports.BreakerState(atomic.LoadInt32(&s.phase)) {
	case ports.BreakerClosed:
		return true

	case ports.BreakerOpen:
		lastFailure := atomic.LoadInt64(&s.lastFailureNs)
		if time.Since(time.Unix(0, lastFailure)) < b.cfg.RecoveryTimeout {
			return false
		}
		// Recovery timeout elapsed: attempt Open -> HalfOpen. Only the
		// first caller to observe this wins the transition and resets the
		// half-open counters; losers still get admitted under the
		// HalfOpen admission count below, without resetting it.
		if atomic.CompareAndSwapInt32(&s.phase, int32(ports.BreakerOpen), int32(ports.BreakerHalfOpen)) {
			atomic.StoreInt64(&s.halfOpenInFlight, 0)
			atomic.StoreInt64(&s.successes, 0)
		}
		return b.admitHalfOpen(s)

	case ports.BreakerHalfOpen:
		return b.admitHalfOpen(s)

	default:
		return true
	}
}

func (b *Breaker) admitHalfOpen(s *state) bool {
	for {
		inFlight := atomic.LoadInt64(&s.halfOpenInFlight)
		if inFlight >= int64(b.cfg.HalfOpenMaxCalls) {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.halfOpenInFlight, inFlight, inFlight+1) {
			return true
		}
	}
}

func (b *Breaker) RecordSuccess(up domain.Upstream) {
	s := b.loadOrCreate(up)

	switch ports.BreakerState(atomic.LoadInt32(&s.phase)) {
	case ports.BreakerClosed:
		atomic.StoreInt64(&s.failures, 0)

	case ports.BreakerHalfOpen:
		atomic.AddInt64(&s.halfOpenInFlight, -1)
		successes := atomic.AddInt64(&s.successes, 1)
		if successes >= int64(b.cfg.SuccessThreshold) {
			atomic.StoreInt32(&s.phase, int32(ports.BreakerClosed))
			atomic.StoreInt64(&s.failures, 0)
			atomic.StoreInt64(&s.successes, 0)
		}
	}
}

func (b *Breaker) RecordFailure(up domain.Upstream) {
	s := b.loadOrCreate(up)
	atomic.StoreInt64(&s.lastFailureNs, time.Now().UnixNano())

	switch ports.BreakerState(atomic.LoadInt32(&s.phase)) {
	case ports.BreakerClosed:
		failures := atomic.AddInt64(&s.failures, 1)
		if failures >= int64(b.cfg.FailureThreshold) {
			atomic.StoreInt32(&s.phase, int32(ports.BreakerOpen))
		}

	case ports.BreakerHalfOpen:
		atomic.AddInt64(&s.halfOpenInFlight, -1)
		atomic.StoreInt32(&s.phase, int32(ports.BreakerOpen))
		atomic.StoreInt64(&s.successes, 0)
	}
}

func (b *Breaker) State(up domain.Upstream) ports.BreakerState {
	s, ok := b.states.Load(up.Key())
	if !ok {
		return ports.BreakerClosed
	}
	return ports.BreakerState(atomic.LoadInt32(&s.phase))
}
