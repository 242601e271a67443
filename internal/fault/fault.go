// Package fault implements the Fault Domain Manager: the process-wide
// kill switch, degradation level and service-isolation set consulted
// by the Router before every dispatch.
package fault

import (
	"context"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/pkg/eventbus"
)

// ThresholdRule triggers the kill switch when its Evaluate func returns
// true for one Metrics snapshot passed to Manager.Evaluate. The Manager
// keeps no history between snapshots, so a rule does not track how long
// a condition has held.
type ThresholdRule struct {
	Name      string
	Evaluate  func(Metrics) bool
}

// Metrics is the minimal snapshot the Fault Domain Manager's threshold
// rules evaluate against; the caller of Manager.Evaluate builds it.
type Metrics struct {
	ErrorRate    float64
	Availability float64
}

// EventKind names the state transition an Event reports.
type EventKind string

const (
	EventKillSwitch  EventKind = "kill_switch"
	EventDegradation EventKind = "degradation"
	EventIsolate     EventKind = "isolate"
	EventUnisolate   EventKind = "unisolate"
)

// Event is published on EventBus every time admin state changes, so a
// process embedding this manager can react (log, alert, refresh a
// console) without polling every getter on a timer.
type Event struct {
	Kind       EventKind
	KillSwitch bool
	Level      domain.DegradationLevel
	Upstream   domain.Upstream
}

// Manager implements ports.FaultDomainManager.
type Manager struct {
	killSwitch atomic.Bool
	degLevel   atomic.Value // domain.DegradationLevel
	policies   map[domain.DegradationLevel]domain.DegradationPolicy
	isolated   xsync.Map[string, struct{}]
	rules      []ThresholdRule

	events *eventbus.EventBus[Event]
}

func New() *Manager {
	m := &Manager{
		policies: domain.DefaultDegradationPolicies(),
		isolated: *xsync.NewMap[string, struct{}](),
		events:   eventbus.New[Event](),
	}
	m.degLevel.Store(domain.DegradationNone)
	return m
}

// Events returns a channel of admin state-change notifications and a
// cleanup function the caller must invoke once done; the subscription
// is also torn down automatically when ctx is cancelled.
func (m *Manager) Events(ctx context.Context) (<-chan Event, func()) {
	return m.events.Subscribe(ctx)
}

func (m *Manager) KillSwitchEnabled() bool { return m.killSwitch.Load() }
func (m *Manager) SetKillSwitch(enabled bool) {
	m.killSwitch.Store(enabled)
	m.events.Publish(Event{Kind: EventKillSwitch, KillSwitch: enabled})
}

func (m *Manager) DegradationLevel() domain.DegradationLevel {
	return m.degLevel.Load().(domain.DegradationLevel)
}

func (m *Manager) SetDegradationLevel(level domain.DegradationLevel) {
	m.degLevel.Store(level)
	m.events.Publish(Event{Kind: EventDegradation, Level: level})
}

func (m *Manager) Isolate(up domain.Upstream) {
	m.isolated.Store(up.Key(), struct{}{})
	m.events.Publish(Event{Kind: EventIsolate, Upstream: up})
}

func (m *Manager) Unisolate(up domain.Upstream) {
	m.isolated.Delete(up.Key())
	m.events.Publish(Event{Kind: EventUnisolate, Upstream: up})
}
func (m *Manager) IsIsolated(up domain.Upstream) bool {
	_, ok := m.isolated.Load(up.Key())
	return ok
}

// FeatureAllowed reports whether f is enabled at the current
// degradation level.
func (m *Manager) FeatureAllowed(f domain.FeatureTag) bool {
	policy, ok := m.policies[m.DegradationLevel()]
	if !ok {
		return true
	}
	_, disabled := policy.DisabledFeatures[f]
	return !disabled
}

// MaxConcurrentActions returns the current level's concurrency limit,
// or 0 meaning unlimited.
func (m *Manager) MaxConcurrentActions() int {
	return m.policies[m.DegradationLevel()].MaxConcurrentActions
}

// SetRules installs the threshold rules evaluated by Evaluate.
func (m *Manager) SetRules(rules []ThresholdRule) { m.rules = rules }

// Evaluate runs every installed threshold rule against snapshot and
// flips the kill switch on if any rule fires. It never turns the kill
// switch back off — recovery is an explicit admin action.
func (m *Manager) Evaluate(snapshot Metrics) {
	for _, rule := range m.rules {
		if rule.Evaluate(snapshot) {
			m.SetKillSwitch(true)
			return
		}
	}
}
