// Package httpapi implements the wire contract named in spec.md §6:
// chat completions, completions, embeddings, model listing and the
// aggregate health probe, fronted by net/http and go-sse.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
	"github.com/olla-project/inforoute/internal/metrics"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Server wires the Router, fault domain manager and health monitor
// into the five public endpoints. It holds no state of its own beyond
// what's needed to build the mux once.
type Server struct {
	log      *slog.Logger
	router   ports.Router
	registry ports.ModelRegistry
	fault    ports.FaultDomainManager
	health   ports.HealthMonitor
	metrics  *metrics.Collectors
}

func NewServer(log *slog.Logger, router ports.Router, registry ports.ModelRegistry, fault ports.FaultDomainManager, health ports.HealthMonitor, collectors *metrics.Collectors) *Server {
	return &Server{
		log:      log,
		router:   router,
		registry: registry,
		fault:    fault,
		health:   health,
		metrics:  collectors,
	}
}

// Handler builds the net/http.ServeMux wiring every endpoint. Called
// once at boot; the returned handler is safe for concurrent use.
func (s *Server) Handler() http.Handler {
	reg := newRouteRegistry(s.log)
	reg.register(http.MethodPost, "/v1/chat/completions", s.handleChatCompletions, "chat completions (OpenAI-compatible, SSE on stream:true)")
	reg.register(http.MethodPost, "/v1/completions", s.handleCompletions, "legacy single-prompt completions")
	reg.register(http.MethodPost, "/v1/embeddings", s.handleEmbeddings, "text embeddings")
	reg.register(http.MethodGet, "/v1/models", s.handleModels, "registered model listing")
	reg.register(http.MethodGet, "/health", s.handleHealth, "kill switch + upstream health aggregate")

	mux := http.NewServeMux()
	reg.wireUp(mux)
	return mux
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleModels lists every registered entry's model_id deduplicated
// into the OpenAI-style listing shape; size/quantization are not
// known to the registry itself, so only id/owned_by are populated
// here (adapters' own ListModels surfaces the richer per-engine data,
// which is out of scope for this aggregate endpoint).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.All()
	seen := make(map[string]struct{}, len(entries))
	listing := make([]domain.ModelListing, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ModelID]; ok {
			continue
		}
		seen[e.ModelID] = struct{}{}
		listing = append(listing, domain.ModelListing{ID: e.ModelID, OwnedBy: string(e.EngineType)})
	}
	writeJSON(w, http.StatusOK, modelsResponseWire{Data: listing})
}

// handleHealth reports 200 when the kill switch is off and at least
// one registered upstream's cached status is Healthy; 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.fault.KillSwitchEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, healthWire{Status: "kill_switch_enabled"})
		return
	}

	anyHealthy := false
	for _, e := range s.registry.All() {
		h, ok := s.health.Get(e.Upstream())
		if ok && h.Status == domain.StatusHealthy {
			anyHealthy = true
			break
		}
	}
	if !anyHealthy {
		writeJSON(w, http.StatusServiceUnavailable, healthWire{Status: "no_healthy_engines"})
		return
	}
	writeJSON(w, http.StatusOK, healthWire{Status: "healthy"})
}

type healthWire struct {
	Status string `json:"status"`
}

// requestContext derives a bounded context for one inbound call,
// falling back to a sane default when the client set no deadline.
func requestContext(r *http.Request, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := r.Context().Deadline(); ok {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), fallback)
}
