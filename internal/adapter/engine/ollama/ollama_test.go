package ollama

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParsesNativeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"hi there","done":true,"prompt_eval_count":3,"eval_count":2}`))
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
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	a := New(srv.URL, srv.Client())
	_, err := a.Generate(context.Background(), &domain.InferenceRequest{ModelID: "m", Prompt: "hi"})
	require.Error(t, err)
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
}

func TestStreamStopsAtDoneFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"response\":\"He\",\"done\":false}\n"))
		_, _ = w.Write([]byte("{\"response\":\"llo\",\"done\":true}\n"))
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
		{"no lines at all", ""},
		{"closes before done:true", "{\"response\":\"He\",\"done\":false}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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

func TestEmbeddingsSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	a := New(srv.URL, srv.Client())
	resp, err := a.Embeddings(context.Background(), []string{"hello"}, "m")
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, resp.Data[0].Embedding)
}
