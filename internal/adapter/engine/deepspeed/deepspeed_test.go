package deepspeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParsesResponsesShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":["hi there"]}`))
	}))
	defer srv.Close()

	a := New(srv.URL, srv.Client())
	resp, err := a.Generate(context.Background(), &domain.InferenceRequest{ModelID: "m", Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
}

func TestGenerateSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	a := New(srv.URL, srv.Client())
	_, err := a.Generate(context.Background(), &domain.InferenceRequest{ModelID: "m", Prompt: "hi"})
	require.Error(t, err)
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
}

func TestStreamStopsAtFinishedFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"text\":\"He\"}\n\n"))
		_, _ = w.Write([]byte("data: {\"text\":\"llo\",\"finished\":true}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	a := New(srv.URL, srv.Client())
	stream, err := a.Stream(context.Background(), &domain.InferenceRequest{ModelID: "m", Prompt: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	var text string
	for {
		chunk, ok, err := stream.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		text += chunk.Delta.Content
	}
	assert.Equal(t, "Hello", text)
}

func TestStreamPrematureCloseIsProtocolError(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no terminator at all", "data: {\"text\":\"He\"}\n\n"},
		{"closes before finished:true or [DONE]", "data: {\"text\":\"He\"}\n\ndata: {\"text\":\"llo\"}\n\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a := New(srv.URL, srv.Client())
			stream, err := a.Stream(context.Background(), &domain.InferenceRequest{ModelID: "m", Prompt: "hi"})
			require.NoError(t, err)
			defer stream.Close()

			var lastErr error
			for {
				_, ok, err := stream.Next(context.Background())
				if err != nil {
					lastErr = err
					break
				}
				if !ok {
					break
				}
			}
			require.Error(t, lastErr)
			assert.ErrorIs(t, lastErr, domain.ErrProtocol)
		})
	}
}

func TestEmbeddingsUnsupported(t *testing.T) {
	a := New("http://example.invalid", http.DefaultClient)
	_, err := a.Embeddings(context.Background(), []string{"a"}, "m")
	require.ErrorIs(t, err, domain.ErrUnsupported)
}
