package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/olla-project/inforoute/internal/core/domain"
)

const defaultRequestTimeout = 60 * time.Second

// handleChatCompletions implements POST /v1/chat/completions: a
// non-streaming call returns the unified InferenceResponse verbatim;
// stream:true switches to the SSE chunk sequence instead.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.serveGenerate(w, r)
}

// handleCompletions implements POST /v1/completions: same wire shape
// and dispatch path as chat completions, since InferenceRequest
// already unifies prompt- and message-based requests (spec.md §6:
// "same shape as chat, single-choice").
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	s.serveGenerate(w, r)
}

func (s *Server) serveGenerate(w http.ResponseWriter, r *http.Request) {
	var wire chatRequestWire
	if err := decodeJSON(r, &wire); err != nil {
		writeError(w, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	req := wire.toDomain()
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r, defaultRequestTimeout)
	defer cancel()

	if req.Stream {
		s.streamGenerate(ctx, w, req)
		return
	}

	resp, err := s.router.Route(ctx, req)
	if err != nil {
		s.metrics.RecordFailure("unknown")
		writeError(w, err)
		return
	}
	s.metrics.RecordRequest(resp.Engine)
	writeJSON(w, http.StatusOK, resp)
}

// streamGenerate drains a RouteStream into SSE chunks. Once the first
// chunk has been written, failures surface as a mid-stream protocol
// error rather than an HTTP error response: the status line and
// headers are already committed.
func (s *Server) streamGenerate(ctx context.Context, w http.ResponseWriter, req *domain.InferenceRequest) {
	stream, err := s.router.RouteStream(ctx, req)
	if err != nil {
		s.metrics.RecordFailure("unknown")
		writeError(w, err)
		return
	}
	defer stream.Close()

	enc := newSSEEncoder(w)

	for {
		chunk, ok, err := stream.Next(ctx)
		if err != nil {
			// Connection is already SSE-framed; there is no clean way
			// to signal failure beyond stopping without a terminator,
			// which a well-behaved client treats as ProtocolError.
			return
		}
		if !ok {
			_ = enc.writeDone()
			return
		}
		if werr := enc.writeJSON(toChunkWire(chunk)); werr != nil {
			return
		}
	}
}
