package domain

// ModelEntry is a registry record mapping one model_id to one upstream
// adapter. Multiple entries may share a model_id; the Registry owns
// every entry for the lifetime of the process.
type ModelEntry struct {
	ModelID      string
	EngineType   EngineType
	Endpoint     string
	Priority     int
	Capabilities map[Capability]struct{}

	// Adapter is the owned reference used to execute requests against
	// this entry's upstream. It is resolved via the adapter registry
	// at registration time, not serialised.
	Adapter Adapter
}

func (m *ModelEntry) Upstream() Upstream {
	return Upstream{EngineType: m.EngineType, Endpoint: m.Endpoint}
}

func (m *ModelEntry) HasCapability(c Capability) bool {
	_, ok := m.Capabilities[c]
	return ok
}

// NewModelEntry builds a ModelEntry with a capability set.
func NewModelEntry(modelID string, engine EngineType, endpoint string, priority int, caps ...Capability) *ModelEntry {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return &ModelEntry{
		ModelID:      modelID,
		EngineType:   engine,
		Endpoint:     endpoint,
		Priority:     priority,
		Capabilities: set,
	}
}
