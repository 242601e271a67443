package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tmaxmax/go-sse"

	"github.com/olla-project/inforoute/pkg/pool"
)

const contentTypeEventStream = "text/event-stream"

// buffers pools the *bytes.Buffer used to marshal each streamed chunk,
// avoiding a fresh allocation per event on a hot SSE path that can
// write hundreds of chunks per request.
var buffers = pool.NewLitePool(func() *bytes.Buffer { return new(bytes.Buffer) })

// sseEncoder writes a sequence of JSON payloads as "data: {...}\n\n"
// events, terminated by a literal "data: [DONE]\n\n", using go-sse's
// Message type as a plain per-write encoder. The public streaming
// endpoints here are one bounded stream per HTTP request rather than
// go-sse's broadcast Server/Topic machinery (that shape fits a
// reconnecting subscriber to a long-lived topic, which this wire
// contract does not have), so only sse.Message's WriteTo framing is
// used, not the pub-sub Server.
type sseEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEEncoder(w http.ResponseWriter) *sseEncoder {
	w.Header().Set(headerContentType, contentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return &sseEncoder{w: w, flusher: flusher}
}

func (e *sseEncoder) writeJSON(v any) error {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return err
	}
	msg := &sse.Message{}
	msg.AppendData(strings.TrimRight(buf.String(), "\n"))
	if _, err := msg.WriteTo(e.w); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *sseEncoder) writeDone() error {
	msg := &sse.Message{}
	msg.AppendData("[DONE]")
	if _, err := msg.WriteTo(e.w); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
