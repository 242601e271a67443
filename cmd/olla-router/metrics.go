package main

import (
	"context"
	"time"

	"github.com/olla-project/inforoute/internal/metrics"
)

const statsPollInterval = 5 * time.Second

// pollStats periodically snapshots breaker/pool/health/fault state
// into collectors until ctx is cancelled. Request/failure counters are
// event-driven (recorded by the HTTP layer as requests complete); the
// retry counter is not incremented by this loop or by the router. This
// loop only covers the gauge-style state that has no single call site
// to hook.
func pollStats(ctx context.Context, rt *runtime, collectors *metrics.Collectors) {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshotStats(rt, collectors)
		}
	}
}

func snapshotStats(rt *runtime, collectors *metrics.Collectors) {
	seen := make(map[string]struct{})
	for _, entry := range rt.registry.All() {
		up := entry.Upstream()
		if _, ok := seen[up.Key()]; ok {
			continue
		}
		seen[up.Key()] = struct{}{}

		collectors.ObserveBreaker(up.String(), rt.breaker.State(up))
		collectors.ObservePool(up.String(), rt.pool.Stats(up))
		if h, ok := rt.health.Get(up); ok {
			collectors.ObserveHealth(up.String(), h.Status)
		}
	}
	collectors.ObserveFault(rt.fault.KillSwitchEnabled(), rt.fault.DegradationLevel())
}
