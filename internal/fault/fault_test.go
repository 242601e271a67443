package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olla-project/inforoute/internal/core/domain"
)

func TestKillSwitchBlocksByDefaultFalse(t *testing.T) {
	m := New()
	assert.False(t, m.KillSwitchEnabled())
	m.SetKillSwitch(true)
	assert.True(t, m.KillSwitchEnabled())
}

func TestDegradationDisablesStreamingAtEmergency(t *testing.T) {
	m := New()
	assert.True(t, m.FeatureAllowed(domain.FeatureStreaming))

	m.SetDegradationLevel(domain.DegradationEmergency)
	assert.False(t, m.FeatureAllowed(domain.FeatureStreaming))
	assert.False(t, m.FeatureAllowed(domain.FeatureEmbedding))
}

func TestIsolationHidesUpstream(t *testing.T) {
	m := New()
	up := domain.Upstream{EngineType: domain.EngineTGI, Endpoint: "http://tgi-1:8080"}

	assert.False(t, m.IsIsolated(up))
	m.Isolate(up)
	assert.True(t, m.IsIsolated(up))
	m.Unisolate(up)
	assert.False(t, m.IsIsolated(up))
}

func TestEvaluateTripsKillSwitch(t *testing.T) {
	m := New()
	m.SetRules([]ThresholdRule{
		{Name: "error_rate", Evaluate: func(snap Metrics) bool { return snap.ErrorRate > 0.5 }},
	})

	m.Evaluate(Metrics{ErrorRate: 0.1})
	assert.False(t, m.KillSwitchEnabled())

	m.Evaluate(Metrics{ErrorRate: 0.9})
	assert.True(t, m.KillSwitchEnabled())
}
