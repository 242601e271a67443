package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
	"github.com/olla-project/inforoute/internal/metrics"
)

// --- fakes ---

type fakeRouter struct {
	routeResp   *domain.InferenceResponse
	routeErr    error
	streamErr   error
	streamOK    []domain.StreamChunk
	embedResp   *domain.EmbeddingResponse
	embedErr    error
}

func (f *fakeRouter) Route(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
	return f.routeResp, f.routeErr
}

func (f *fakeRouter) RouteStream(ctx context.Context, req *domain.InferenceRequest) (domain.StreamReader, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &fakeStream{chunks: f.streamOK}, nil
}

func (f *fakeRouter) RouteEmbeddings(ctx context.Context, req *domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	return f.embedResp, f.embedErr
}

func (f *fakeRouter) Stats() ports.RouterStats { return ports.RouterStats{} }

type fakeStream struct {
	chunks []domain.StreamChunk
	idx    int
}

func (s *fakeStream) Next(ctx context.Context) (domain.StreamChunk, bool, error) {
	if s.idx >= len(s.chunks) {
		return domain.StreamChunk{}, false, nil
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, true, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeRegistry struct {
	entries []*domain.ModelEntry
}

func (f *fakeRegistry) Register(e *domain.ModelEntry) error { return nil }
func (f *fakeRegistry) Resolve(modelID string, cap domain.Capability) ([]*domain.ModelEntry, error) {
	return f.entries, nil
}
func (f *fakeRegistry) All() []*domain.ModelEntry { return f.entries }

type fakeFault struct {
	killSwitch bool
}

func (f *fakeFault) KillSwitchEnabled() bool                        { return f.killSwitch }
func (f *fakeFault) SetKillSwitch(enabled bool)                     { f.killSwitch = enabled }
func (f *fakeFault) DegradationLevel() domain.DegradationLevel      { return domain.DegradationNone }
func (f *fakeFault) SetDegradationLevel(level domain.DegradationLevel) {}
func (f *fakeFault) Isolate(up domain.Upstream)                     {}
func (f *fakeFault) Unisolate(up domain.Upstream)                   {}
func (f *fakeFault) IsIsolated(up domain.Upstream) bool              { return false }
func (f *fakeFault) FeatureAllowed(t domain.FeatureTag) bool         { return true }

type fakeHealth struct {
	status domain.HealthStatus
}

func (f *fakeHealth) Start(ctx context.Context) {}
func (f *fakeHealth) Stop()                     {}
func (f *fakeHealth) Get(up domain.Upstream) (domain.UpstreamHealth, bool) {
	return domain.UpstreamHealth{Upstream: up, Status: f.status}, true
}
func (f *fakeHealth) CheckAll(ctx context.Context) map[domain.Upstream]domain.HealthCheckResult {
	return nil
}
func (f *fakeHealth) MarkUnhealthy(up domain.Upstream, quarantine time.Duration) {}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testEntry() *domain.ModelEntry {
	return domain.NewModelEntry("m1", domain.EngineVLLM, "http://v:8000", 1, domain.CapabilityChat)
}

// --- tests ---

func TestHandleChatCompletionsNonStream(t *testing.T) {
	router := &fakeRouter{routeResp: &domain.InferenceResponse{
		ID: "r1", Model: "m1", Engine: "vllm",
		Choices: []domain.Choice{{Index: 0, Message: domain.Message{Role: domain.RoleAssistant, Content: "hi"}, FinishReason: domain.FinishStop}},
		Usage:   domain.NewUsage(3, 2),
	}}
	reg := &fakeRegistry{entries: []*domain.ModelEntry{testEntry()}}
	srv := NewServer(testLogger(), router, reg, &fakeFault{}, &fakeHealth{status: domain.StatusHealthy}, metrics.NewCollectors(prometheus.NewRegistry()))
	h := srv.Handler()

	body := `{"model":"m1","messages":[{"role":"user","content":"hi"}],"max_tokens":8}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.InferenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "vllm", resp.Engine)
}

func TestHandleChatCompletionsValidationError(t *testing.T) {
	reg := &fakeRegistry{}
	srv := NewServer(testLogger(), &fakeRouter{}, reg, &fakeFault{}, &fakeHealth{}, metrics.NewCollectors(prometheus.NewRegistry()))
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatCompletionsKillSwitch(t *testing.T) {
	reg := &fakeRegistry{}
	srv := NewServer(testLogger(), &fakeRouter{routeErr: domain.ErrKillSwitchEnabled}, reg, &fakeFault{killSwitch: true}, &fakeHealth{}, metrics.NewCollectors(prometheus.NewRegistry()))
	h := srv.Handler()

	body := `{"model":"m1","prompt":"hi","max_tokens":4}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleChatCompletionsStream(t *testing.T) {
	router := &fakeRouter{streamOK: []domain.StreamChunk{
		{ID: "s1", Model: "m1", Delta: domain.Delta{Content: "he"}},
		{ID: "s1", Model: "m1", Delta: domain.Delta{Content: "llo"}, FinishReason: domain.FinishStop},
	}}
	reg := &fakeRegistry{entries: []*domain.ModelEntry{testEntry()}}
	srv := NewServer(testLogger(), router, reg, &fakeFault{}, &fakeHealth{status: domain.StatusHealthy}, metrics.NewCollectors(prometheus.NewRegistry()))
	h := srv.Handler()

	body := `{"model":"m1","prompt":"hi","stream":true,"max_tokens":4}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, contentTypeEventStream, rec.Header().Get(headerContentType))

	var dataLines []string
	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	require.Len(t, dataLines, 3)
	require.Equal(t, "[DONE]", dataLines[2])
}

func TestHandleModels(t *testing.T) {
	reg := &fakeRegistry{entries: []*domain.ModelEntry{testEntry()}}
	srv := NewServer(testLogger(), &fakeRouter{}, reg, &fakeFault{}, &fakeHealth{}, metrics.NewCollectors(prometheus.NewRegistry()))
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out modelsResponseWire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	require.Equal(t, "m1", out.Data[0].ID)
}

func TestHandleHealth(t *testing.T) {
	reg := &fakeRegistry{entries: []*domain.ModelEntry{testEntry()}}

	t.Run("healthy", func(t *testing.T) {
		srv := NewServer(testLogger(), &fakeRouter{}, reg, &fakeFault{}, &fakeHealth{status: domain.StatusHealthy}, metrics.NewCollectors(prometheus.NewRegistry()))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("kill switch", func(t *testing.T) {
		srv := NewServer(testLogger(), &fakeRouter{}, reg, &fakeFault{killSwitch: true}, &fakeHealth{status: domain.StatusHealthy}, metrics.NewCollectors(prometheus.NewRegistry()))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("no healthy engines", func(t *testing.T) {
		srv := NewServer(testLogger(), &fakeRouter{}, reg, &fakeFault{}, &fakeHealth{status: domain.StatusUnhealthy}, metrics.NewCollectors(prometheus.NewRegistry()))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleEmbeddingsUnsupported(t *testing.T) {
	reg := &fakeRegistry{}
	srv := NewServer(testLogger(), &fakeRouter{embedErr: domain.ErrUnsupported}, reg, &fakeFault{}, &fakeHealth{}, metrics.NewCollectors(prometheus.NewRegistry()))
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{"model":"m1","input":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
