// Package metrics exposes router, breaker, pool, and health state as
// Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
)

// Collectors bundles every metric family this package registers.
type Collectors struct {
	RequestsTotal   *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	BreakerState    *prometheus.GaugeVec
	PoolInUse       *prometheus.GaugeVec
	PoolAvailable   *prometheus.GaugeVec
	PoolWaiters     *prometheus.GaugeVec
	UpstreamHealth  *prometheus.GaugeVec
	KillSwitch      prometheus.Gauge
	DegradationTier prometheus.Gauge
}

// NewCollectors builds and registers every collector against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inforoute",
			Name:      "requests_total",
			Help:      "Total inference requests routed, by engine.",
		}, []string{"engine"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inforoute",
			Name:      "failures_total",
			Help:      "Total upstream call failures, by engine.",
		}, []string{"engine"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inforoute",
			Name:      "retries_total",
			Help:      "Total retry attempts issued by the router.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inforoute",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per upstream (0=closed,1=open,2=half-open).",
		}, []string{"upstream"}),
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inforoute",
			Name:      "pool_connections_in_use",
			Help:      "Connections currently leased per upstream.",
		}, []string{"upstream"}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inforoute",
			Name:      "pool_connections_available",
			Help:      "Connection slots currently free per upstream.",
		}, []string{"upstream"}),
		PoolWaiters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inforoute",
			Name:      "pool_waiters",
			Help:      "Cumulative count of callers that waited for a connection lease.",
		}, []string{"upstream"}),
		UpstreamHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inforoute",
			Name:      "upstream_health",
			Help:      "Health status per upstream (0=unhealthy,1=degraded,2=healthy).",
		}, []string{"upstream"}),
		KillSwitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inforoute",
			Name:      "kill_switch_enabled",
			Help:      "1 if the kill switch is currently tripped.",
		}),
		DegradationTier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inforoute",
			Name:      "degradation_level",
			Help:      "Current degradation level (0=none,1=partial,2=full,3=emergency).",
		}),
	}

	reg.MustRegister(
		c.RequestsTotal, c.FailuresTotal, c.RetriesTotal,
		c.BreakerState, c.PoolInUse, c.PoolAvailable, c.PoolWaiters,
		c.UpstreamHealth, c.KillSwitch, c.DegradationTier,
	)
	return c
}

func breakerStateValue(s ports.BreakerState) float64 {
	switch s {
	case ports.BreakerOpen:
		return 1
	case ports.BreakerHalfOpen:
		return 2
	default:
		return 0
	}
}

func degradationValue(level domain.DegradationLevel) float64 {
	switch level {
	case domain.DegradationPartial:
		return 1
	case domain.DegradationFull:
		return 2
	case domain.DegradationEmergency:
		return 3
	default:
		return 0
	}
}

func healthStatusValue(s domain.HealthStatus) float64 {
	switch s {
	case domain.StatusHealthy:
		return 2
	case domain.StatusDegraded, domain.StatusStarting:
		return 1
	default:
		return 0
	}
}

// ObserveBreaker records the current state of one upstream's breaker.
func (c *Collectors) ObserveBreaker(upstream string, state ports.BreakerState) {
	c.BreakerState.WithLabelValues(upstream).Set(breakerStateValue(state))
}

// ObservePool records the current lease/wait counts of one upstream's pool.
func (c *Collectors) ObservePool(upstream string, stats ports.PoolStats) {
	c.PoolInUse.WithLabelValues(upstream).Set(float64(stats.InUse))
	c.PoolAvailable.WithLabelValues(upstream).Set(float64(stats.Available))
	c.PoolWaiters.WithLabelValues(upstream).Set(float64(stats.WaitCount))
}

// ObserveHealth records the current cached health status of one upstream.
func (c *Collectors) ObserveHealth(upstream string, status domain.HealthStatus) {
	c.UpstreamHealth.WithLabelValues(upstream).Set(healthStatusValue(status))
}

// ObserveFault records the current kill switch and degradation state.
func (c *Collectors) ObserveFault(killSwitch bool, level domain.DegradationLevel) {
	if killSwitch {
		c.KillSwitch.Set(1)
	} else {
		c.KillSwitch.Set(0)
	}
	c.DegradationTier.Set(degradationValue(level))
}

// RecordRequest increments the per-engine request counter.
func (c *Collectors) RecordRequest(engine string) {
	c.RequestsTotal.WithLabelValues(engine).Inc()
}

// RecordFailure increments the per-engine failure counter.
func (c *Collectors) RecordFailure(engine string) {
	c.FailuresTotal.WithLabelValues(engine).Inc()
}

// RecordRetry increments the global retry counter.
func (c *Collectors) RecordRetry() {
	c.RetriesTotal.Inc()
}
