package httpapi

import (
	"net/http"

	"github.com/olla-project/inforoute/internal/core/domain"
)

// handleEmbeddings implements POST /v1/embeddings. Adapters that do
// not implement embeddings (everything but Ollama, per spec.md §4.1)
// surface as domain.ErrUnsupported, translated to HTTP 501.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var wire embeddingRequestWire
	if err := decodeJSON(r, &wire); err != nil {
		writeError(w, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	req := wire.toDomain()
	if req.ModelID == "" {
		writeError(w, &domain.ValidationError{Field: "model", Reason: "must not be empty"})
		return
	}
	if len(req.Input) == 0 {
		writeError(w, &domain.ValidationError{Field: "input", Reason: "must not be empty"})
		return
	}

	ctx, cancel := requestContext(r, defaultRequestTimeout)
	defer cancel()

	resp, err := s.router.RouteEmbeddings(ctx, req)
	if err != nil {
		s.metrics.RecordFailure("unknown")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
