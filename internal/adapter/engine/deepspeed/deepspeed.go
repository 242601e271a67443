// Package deepspeed adapts DeepSpeed-MII's native API
// (/generate, /generate_stream) to the unified Adapter interface.
package deepspeed

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

const DefaultTimeout = 180 * time.Second

type Adapter struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, client *http.Client) *Adapter {
	return &Adapter{endpoint: endpoint, client: client}
}

func (a *Adapter) EngineType() domain.EngineType { return domain.EngineDeepSpeed }
func (a *Adapter) Endpoint() string               { return a.endpoint }

type generateRequest struct {
	Prompts     []string `json:"prompts"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	DoSample     bool    `json:"do_sample"`
	StopWords    []string `json:"stop_words,omitempty"`
	Stream       bool    `json:"stream,omitempty"`
}

func (a *Adapter) buildRequest(req *domain.InferenceRequest) generateRequest {
	prompt := common.FormatPromptDeepSpeed(req)
	return generateRequest{
		Prompts:      []string{prompt},
		MaxNewTokens: req.MaxTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		DoSample:     req.Temperature > 0,
		StopWords:    req.Stop,
	}
}

type generateResponse struct {
	Responses []string `json:"responses"`
	Text      []string `json:"text"`
}

func (a *Adapter) Generate(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
	start := time.Now()
	requestID := common.NewRequestID()
	prompt := common.FormatPromptDeepSpeed(req)

	body := a.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, "/generate"), bytes.NewReader(payload))
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
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineDeepSpeed, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	var data generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	generated := ""
	switch {
	case len(data.Responses) > 0:
		generated = data.Responses[0]
	case len(data.Text) > 0:
		generated = data.Text[0]
	}

	latency := float64(time.Since(start)) / float64(time.Millisecond)
	promptTokens := common.EstimateTokens(prompt)
	completionTokens := common.EstimateTokens(generated)

	return common.BuildOpenAIResponse(requestID, req.ModelID, generated, promptTokens, completionTokens, domain.EngineDeepSpeed, latency), nil
}

type streamEvent struct {
	Text     string `json:"text"`
	Token    struct {
		Text string `json:"text"`
	} `json:"token"`
	Finished bool `json:"finished"`
}

type deepspeedStream struct {
	src       *common.SSELineSource
	requestID string
	model     string
	done      bool
}

func (s *deepspeedStream) Next(ctx context.Context) (domain.StreamChunk, bool, error) {
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
		if line == "[DONE]" {
			s.done = true
			return domain.StreamChunk{}, false, nil
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		text := ev.Text
		if text == "" {
			text = ev.Token.Text
		}
		if ev.Finished {
			s.done = true
		}
		if text == "" && !ev.Finished {
			continue
		}
		chunk := domain.StreamChunk{ID: s.requestID, Model: s.model, Delta: domain.Delta{Content: text}}
		if ev.Finished {
			chunk.FinishReason = domain.FinishStop
		}
		return chunk, true, nil
	}
}

func (s *deepspeedStream) Close() error { return s.src.Close() }

func (a *Adapter) Stream(ctx context.Context, req *domain.InferenceRequest) (domain.StreamReader, error) {
	requestID := common.NewRequestID()

	body := a.buildRequest(req)
	body.Stream = true
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, "/generate_stream"), bytes.NewReader(payload))
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
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineDeepSpeed, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	// DeepSpeed lines may or may not carry a "data:" prefix; the lenient
	// source strips it when present but also accepts bare JSON lines,
	// matching the original adapter's handling of both shapes.
	return &deepspeedStream{src: common.NewSSELineSourceLenient(resp.Body), requestID: requestID, model: req.ModelID}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) (domain.HealthCheckResult, error) {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(checkCtx, http.MethodGet, util.JoinURLPath(a.endpoint, "/health"), nil)
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.HealthCheckResult{Status: domain.StatusUnhealthy, ErrorType: domain.HealthErrorNetwork, Err: err, Latency: time.Since(start)}, err
	}
	defer resp.Body.Close()

	status := domain.StatusHealthy
	if resp.StatusCode != http.StatusOK {
		status = domain.StatusDegraded
	}
	return domain.HealthCheckResult{Status: status, Latency: time.Since(start), StatusCode: resp.StatusCode}, nil
}

type modelsResponse struct {
	Models []domain.ModelListing `json:"models"`
}

func (a *Adapter) ListModels(ctx context.Context) ([]domain.ModelListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, util.JoinURLPath(a.endpoint, "/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		// Mirrors the original adapter's fallback to a synthetic listing
		// when the /models endpoint is unreachable.
		return []domain.ModelListing{{ID: "deepspeed-model", OwnedBy: "microsoft-deepspeed"}}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return []domain.ModelListing{{ID: "deepspeed-model", OwnedBy: "microsoft-deepspeed"}}, nil
	}

	var data modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return []domain.ModelListing{{ID: "deepspeed-model", OwnedBy: "microsoft-deepspeed"}}, nil
	}
	return data.Models, nil
}

func (a *Adapter) Embeddings(ctx context.Context, texts []string, model string) (*domain.EmbeddingResponse, error) {
	return nil, fmt.Errorf("%w: deepspeed does not support embeddings", domain.ErrUnsupported)
}
