package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olla-project/inforoute/internal/core/domain"
)

func TestResolveFiltersByCapability(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(domain.NewModelEntry("llama-3-70b", domain.EngineVLLM, "http://vllm-1:8000", 10, domain.CapabilityChat, domain.CapabilityStreaming)))
	require.NoError(t, r.Register(domain.NewModelEntry("llama-3-70b", domain.EngineTGI, "http://tgi-1:8080", 5, domain.CapabilityChat)))
	r.Seal()

	entries, err := r.Resolve("llama-3-70b", domain.CapabilityStreaming)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EngineVLLM, entries[0].EngineType)
}

func TestResolveOrdersByPriorityDescending(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(domain.NewModelEntry("m", domain.EngineTGI, "http://tgi-1:8080", 1, domain.CapabilityChat)))
	require.NoError(t, r.Register(domain.NewModelEntry("m", domain.EngineVLLM, "http://vllm-1:8000", 10, domain.CapabilityChat)))
	require.NoError(t, r.Register(domain.NewModelEntry("m", domain.EngineOllama, "http://ollama-1:11434", 5, domain.CapabilityChat)))
	r.Seal()

	entries, err := r.Resolve("m", domain.CapabilityChat)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.EngineVLLM, entries[0].EngineType)
	assert.Equal(t, domain.EngineOllama, entries[1].EngineType)
	assert.Equal(t, domain.EngineTGI, entries[2].EngineType)
}

func TestResolveUnknownModelFails(t *testing.T) {
	r := New()
	r.Seal()
	_, err := r.Resolve("missing", domain.CapabilityChat)
	assert.ErrorIs(t, err, domain.ErrNoEngineAvailable)
}

func TestResolveNoCapabilityMatchFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(domain.NewModelEntry("m", domain.EngineTGI, "http://tgi-1:8080", 1, domain.CapabilityChat)))
	r.Seal()

	_, err := r.Resolve("m", domain.CapabilityEmbedding)
	assert.ErrorIs(t, err, domain.ErrNoEngineAvailable)
}

func TestRegisterAfterSealFails(t *testing.T) {
	r := New()
	r.Seal()
	err := r.Register(domain.NewModelEntry("m", domain.EngineTGI, "http://tgi-1:8080", 1, domain.CapabilityChat))
	assert.Error(t, err)
}

func TestResolveFallsBackToGlobPattern(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(domain.NewModelEntry("llama-3*", domain.EngineVLLM, "http://vllm-1:8000", 10, domain.CapabilityChat, domain.CapabilityStreaming)))
	require.NoError(t, r.Register(domain.NewModelEntry("llama-3*", domain.EngineTGI, "http://tgi-1:8080", 5, domain.CapabilityChat)))
	r.Seal()

	entries, err := r.Resolve("llama-3-8b-instruct", domain.CapabilityChat)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EngineVLLM, entries[0].EngineType)
	assert.Equal(t, domain.EngineTGI, entries[1].EngineType)
}

func TestResolvePrefersExactOverGlob(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(domain.NewModelEntry("llama-3*", domain.EngineVLLM, "http://vllm-1:8000", 10, domain.CapabilityChat)))
	require.NoError(t, r.Register(domain.NewModelEntry("llama-3-8b", domain.EngineTGI, "http://tgi-1:8080", 1, domain.CapabilityChat)))
	r.Seal()

	entries, err := r.Resolve("llama-3-8b", domain.CapabilityChat)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EngineTGI, entries[0].EngineType)
}

func TestResolveGlobNoCapabilityMatchFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(domain.NewModelEntry("llama-3*", domain.EngineTGI, "http://tgi-1:8080", 1, domain.CapabilityChat)))
	r.Seal()

	_, err := r.Resolve("llama-3-8b", domain.CapabilityEmbedding)
	assert.ErrorIs(t, err, domain.ErrNoEngineAvailable)
}
