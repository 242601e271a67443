// Package ollama adapts Ollama's native REST API (/api/chat,
// /api/generate, /api/tags, /api/embeddings) to the unified Adapter
// interface.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/olla-project/inforoute/internal/adapter/engine/common"
	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/util"
)

const DefaultTimeout = 300 * time.Second

type Adapter struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, client *http.Client) *Adapter {
	return &Adapter{endpoint: endpoint, client: client}
}

func (a *Adapter) EngineType() domain.EngineType { return domain.EngineOllama }
func (a *Adapter) Endpoint() string               { return a.endpoint }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type options struct {
	Temperature  float64  `json:"temperature"`
	TopP         float64  `json:"top_p"`
	TopK         int      `json:"top_k,omitempty"`
	NumPredict   int      `json:"num_predict"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	Stop         []string `json:"stop,omitempty"`
}

type nativeRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options"`
	Messages []chatMessage `json:"messages,omitempty"`
	Prompt   string        `json:"prompt,omitempty"`
}

func (a *Adapter) buildRequest(req *domain.InferenceRequest, stream bool) (nativeRequest, string) {
	opts := options{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		NumPredict:    req.MaxTokens,
		RepeatPenalty: common.RepetitionPenalty(req.FrequencyPenalty),
		Stop:          req.Stop,
	}
	if req.TopK > 0 {
		opts.TopK = req.TopK
	}

	nr := nativeRequest{Model: req.ModelID, Stream: stream, Options: opts}
	apiPath := "/api/generate"
	if len(req.Messages) > 0 {
		apiPath = "/api/chat"
		nr.Messages = make([]chatMessage, len(req.Messages))
		for i, m := range req.Messages {
			nr.Messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
		}
	} else {
		nr.Prompt = req.Prompt
	}
	return nr, apiPath
}

type nativeResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (a *Adapter) Generate(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
	start := time.Now()
	requestID := common.NewRequestID()

	body, apiPath := a.buildRequest(req, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, apiPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineOllama, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	var data nativeResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	content := data.Response
	if apiPath == "/api/chat" {
		content = data.Message.Content
	}

	latency := float64(time.Since(start)) / float64(time.Millisecond)
	return common.BuildOpenAIResponse(requestID, req.ModelID, content, data.PromptEvalCount, data.EvalCount, domain.EngineOllama, latency), nil
}

type ollamaStream struct {
	src       *common.NDJSONLineSource
	requestID string
	model     string
	apiPath   string
	done      bool
}

func (s *ollamaStream) Next(ctx context.Context) (domain.StreamChunk, bool, error) {
	if s.done {
		return domain.StreamChunk{}, false, nil
	}
	for {
		line, ok, err := s.src.Next()
		if err != nil {
			return domain.StreamChunk{}, false, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		if !ok {
			if !s.done {
				return domain.StreamChunk{}, false, fmt.Errorf("%w: upstream closed before terminator", domain.ErrProtocol)
			}
			return domain.StreamChunk{}, false, nil
		}
		var data nativeResponse
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			continue
		}

		text := data.Response
		if s.apiPath == "/api/chat" {
			text = data.Message.Content
		}
		if data.Done {
			s.done = true
		}
		if text == "" && !data.Done {
			continue
		}
		chunk := domain.StreamChunk{ID: s.requestID, Model: s.model, Delta: domain.Delta{Content: text}}
		if data.Done {
			chunk.FinishReason = domain.FinishStop
		}
		return chunk, true, nil
	}
}

func (s *ollamaStream) Close() error { return s.src.Close() }

func (a *Adapter) Stream(ctx context.Context, req *domain.InferenceRequest) (domain.StreamReader, error) {
	requestID := common.NewRequestID()

	body, apiPath := a.buildRequest(req, true)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, apiPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineOllama, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	return &ollamaStream{src: common.NewNDJSONLineSource(resp.Body), requestID: requestID, model: req.ModelID, apiPath: apiPath}, nil
}

type tagsModel struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Details struct {
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

type tagsResponse struct {
	Models []tagsModel `json:"models"`
}

func (a *Adapter) HealthCheck(ctx context.Context) (domain.HealthCheckResult, error) {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(checkCtx, http.MethodGet, util.JoinURLPath(a.endpoint, "/api/tags"), nil)
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.HealthCheckResult{Status: domain.StatusUnhealthy, ErrorType: domain.HealthErrorNetwork, Err: err, Latency: time.Since(start)}, err
	}
	defer resp.Body.Close()

	status := domain.StatusDegraded
	var models []string
	if resp.StatusCode == http.StatusOK {
		status = domain.StatusHealthy
		var data tagsResponse
		if json.NewDecoder(resp.Body).Decode(&data) == nil {
			for _, m := range data.Models {
				models = append(models, m.Name)
			}
		}
	}

	return domain.HealthCheckResult{Status: status, Latency: time.Since(start), StatusCode: resp.StatusCode, ModelsLoaded: models}, nil
}

func (a *Adapter) ListModels(ctx context.Context) ([]domain.ModelListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, util.JoinURLPath(a.endpoint, "/api/tags"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineOllama, Endpoint: a.endpoint}, Status: resp.StatusCode}
	}

	var data tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	listings := make([]domain.ModelListing, len(data.Models))
	for i, m := range data.Models {
		listings[i] = domain.ModelListing{ID: m.Name, OwnedBy: "ollama", Size: m.Size, Quantization: m.Details.QuantizationLevel}
	}
	return listings, nil
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embeddings issues one request per text, mirroring Ollama's
// one-text-at-a-time embeddings endpoint.
func (a *Adapter) Embeddings(ctx context.Context, texts []string, model string) (*domain.EmbeddingResponse, error) {
	vectors := make([]domain.EmbeddingVector, 0, len(texts))
	promptTokens := 0

	for i, text := range texts {
		promptTokens += common.EstimateTokens(text)

		payload, err := json.Marshal(embeddingRequest{Model: model, Prompt: text})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, "/api/embeddings"), bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineOllama, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
		}

		var data embeddingResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&data)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, decodeErr)
		}
		vectors = append(vectors, domain.EmbeddingVector{Index: i, Embedding: data.Embedding})
	}

	return &domain.EmbeddingResponse{Model: model, Data: vectors, Usage: domain.NewUsage(promptTokens, 0)}, nil
}
