// Package openaicompat adapts any engine exposing an OpenAI-compatible
// /v1/chat/completions surface (vLLM, SGLang, TensorRT-LLM, LMDeploy)
// to the unified Adapter interface. One Adapter value serves all four
// engine types; only the EngineType tag and endpoint differ.
package openaicompat

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

const DefaultTimeout = 120 * time.Second

type Adapter struct {
	engine   domain.EngineType
	endpoint string
	client   *http.Client
}

func New(engine domain.EngineType, endpoint string, client *http.Client) *Adapter {
	return &Adapter{engine: engine, endpoint: endpoint, client: client}
}

func (a *Adapter) EngineType() domain.EngineType { return a.engine }
func (a *Adapter) Endpoint() string               { return a.endpoint }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *Adapter) buildPayload(req *domain.InferenceRequest) map[string]any {
	payload := map[string]any{
		"model":             req.ModelID,
		"temperature":       req.Temperature,
		"max_tokens":        req.MaxTokens,
		"top_p":             req.TopP,
		"frequency_penalty": req.FrequencyPenalty,
		"presence_penalty":  req.PresencePenalty,
		"stream":            false,
	}
	if len(req.Messages) > 0 {
		messages := make([]chatMessage, len(req.Messages))
		for i, m := range req.Messages {
			messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
		}
		payload["messages"] = messages
	} else if req.Prompt != "" {
		payload["messages"] = []chatMessage{{Role: "user", Content: req.Prompt}}
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	for k, v := range req.Extra {
		payload[k] = v
	}
	return payload
}

type choiceResponse struct {
	Index        int             `json:"index"`
	Message      json.RawMessage `json:"message"`
	Delta        json.RawMessage `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type usageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []choiceResponse `json:"choices"`
	Usage   usageResponse    `json:"usage"`
}

func (a *Adapter) Generate(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
	start := time.Now()
	requestID := common.NewRequestID()

	payload := a.buildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, "/v1/chat/completions"), bytes.NewReader(body))
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
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: a.engine, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	var data chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	id := data.ID
	if id == "" {
		id = requestID
	}
	model := data.Model
	if model == "" {
		model = req.ModelID
	}

	choices := make([]domain.Choice, len(data.Choices))
	for i, c := range data.Choices {
		var msg chatMessage
		_ = json.Unmarshal(c.Message, &msg)
		reason := domain.FinishStop
		if c.FinishReason != nil {
			reason = domain.FinishReason(*c.FinishReason)
		}
		choices[i] = domain.Choice{
			Index:        c.Index,
			Message:      domain.Message{Role: domain.Role(msg.Role), Content: msg.Content},
			FinishReason: reason,
		}
	}

	latency := float64(time.Since(start)) / float64(time.Millisecond)
	return &domain.InferenceResponse{
		ID:        id,
		Model:     model,
		Choices:   choices,
		Usage:     domain.NewUsage(data.Usage.PromptTokens, data.Usage.CompletionTokens),
		Engine:    a.engine.String(),
		LatencyMs: latency,
	}, nil
}

type compatStream struct {
	src        *common.SSELineSource
	requestID  string
	model      string
	terminated bool
}

func (s *compatStream) Next(ctx context.Context) (domain.StreamChunk, bool, error) {
	for {
		line, ok, err := s.src.Next()
		if err != nil {
			return domain.StreamChunk{}, false, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		if !ok {
			if !s.terminated {
				return domain.StreamChunk{}, false, fmt.Errorf("%w: upstream closed before terminator", domain.ErrProtocol)
			}
			return domain.StreamChunk{}, false, nil
		}
		if line == "[DONE]" {
			s.terminated = true
			return domain.StreamChunk{}, false, nil
		}
		var data chatCompletionResponse
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			continue
		}
		if len(data.Choices) == 0 {
			continue
		}
		c := data.Choices[0]
		var delta chatMessage
		_ = json.Unmarshal(c.Delta, &delta)

		id := data.ID
		if id == "" {
			id = s.requestID
		}
		model := data.Model
		if model == "" {
			model = s.model
		}

		chunk := domain.StreamChunk{
			ID:    id,
			Model: model,
			Delta: domain.Delta{Role: domain.Role(delta.Role), Content: delta.Content},
		}
		if c.FinishReason != nil {
			chunk.FinishReason = domain.FinishReason(*c.FinishReason)
			s.terminated = true
		}
		return chunk, true, nil
	}
}

func (s *compatStream) Close() error { return s.src.Close() }

func (a *Adapter) Stream(ctx context.Context, req *domain.InferenceRequest) (domain.StreamReader, error) {
	requestID := common.NewRequestID()

	payload := a.buildPayload(req)
	payload["stream"] = true
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, "/v1/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: a.engine, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	return &compatStream{src: common.NewSSELineSource(resp.Body), requestID: requestID, model: req.ModelID}, nil
}

type modelsResponse struct {
	Data []domain.ModelListing `json:"data"`
}

func (a *Adapter) HealthCheck(ctx context.Context) (domain.HealthCheckResult, error) {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(checkCtx, http.MethodGet, util.JoinURLPath(a.endpoint, "/v1/models"), nil)
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.HealthCheckResult{Status: domain.StatusUnhealthy, ErrorType: domain.HealthErrorNetwork, Err: err, Latency: time.Since(start)}, err
	}
	defer resp.Body.Close()

	status := domain.StatusDegraded
	var models []string
	if resp.StatusCode == http.StatusOK {
		status = domain.StatusHealthy
		var data modelsResponse
		if json.NewDecoder(resp.Body).Decode(&data) == nil {
			for _, m := range data.Data {
				models = append(models, m.ID)
			}
		}
	}

	return domain.HealthCheckResult{Status: status, Latency: time.Since(start), StatusCode: resp.StatusCode, ModelsLoaded: models}, nil
}

func (a *Adapter) ListModels(ctx context.Context) ([]domain.ModelListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, util.JoinURLPath(a.endpoint, "/v1/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: a.engine, Endpoint: a.endpoint}, Status: resp.StatusCode}
	}

	var data modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return data.Data, nil
}

func (a *Adapter) Embeddings(ctx context.Context, texts []string, model string) (*domain.EmbeddingResponse, error) {
	return nil, fmt.Errorf("%w: %s does not support embeddings via this adapter", domain.ErrUnsupported, a.engine)
}
