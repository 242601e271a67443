// Package tgi adapts HuggingFace Text Generation Inference's native
// API (/generate, /generate_stream) to the unified Adapter interface.
package tgi

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
	endpoint string
	client   *http.Client
}

func New(endpoint string, client *http.Client) *Adapter {
	return &Adapter{endpoint: endpoint, client: client}
}

func (a *Adapter) EngineType() domain.EngineType { return domain.EngineTGI }
func (a *Adapter) Endpoint() string               { return a.endpoint }

type generateParams struct {
	MaxNewTokens       int      `json:"max_new_tokens"`
	Temperature        float64  `json:"temperature"`
	TopP               float64  `json:"top_p"`
	TopK               *int     `json:"top_k,omitempty"`
	RepetitionPenalty  float64  `json:"repetition_penalty"`
	DoSample           bool     `json:"do_sample"`
	ReturnFullText     bool     `json:"return_full_text"`
	StopSequences      []string `json:"stop_sequences,omitempty"`
}

type generateRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters generateParams `json:"parameters"`
	Stream     bool           `json:"stream,omitempty"`
}

func (a *Adapter) buildParams(req *domain.InferenceRequest) generateParams {
	temp := req.Temperature
	if temp < 0.01 {
		temp = 0.01
	}
	p := generateParams{
		MaxNewTokens:      req.MaxTokens,
		Temperature:       temp,
		TopP:              req.TopP,
		RepetitionPenalty: common.RepetitionPenalty(req.FrequencyPenalty),
		DoSample:          req.Temperature > 0,
		ReturnFullText:    false,
		StopSequences:     req.Stop,
	}
	if req.TopK > 0 {
		topK := req.TopK
		p.TopK = &topK
	}
	return p
}

type generateResponse struct {
	GeneratedText string `json:"generated_text"`
}

func (a *Adapter) Generate(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResponse, error) {
	start := time.Now()
	requestID := common.NewRequestID()
	prompt := common.FormatPromptTGI(req)

	body := generateRequest{Inputs: prompt, Parameters: a.buildParams(req)}
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
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineTGI, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	// TGI returns either a single object or a one-element array.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	generated, err := decodeGenerateResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	latency := float64(time.Since(start)) / float64(time.Millisecond)
	promptTokens := common.EstimateTokens(prompt)
	completionTokens := common.EstimateTokens(generated)

	return common.BuildOpenAIResponse(requestID, req.ModelID, generated, promptTokens, completionTokens, domain.EngineTGI, latency), nil
}

func decodeGenerateResponse(raw []byte) (string, error) {
	var single generateResponse
	if err := json.Unmarshal(raw, &single); err == nil && single.GeneratedText != "" {
		return single.GeneratedText, nil
	}
	var list []generateResponse
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0].GeneratedText, nil
	}
	return "", fmt.Errorf("unrecognised /generate response shape")
}

type streamToken struct {
	Text    string `json:"text"`
	Special bool   `json:"special"`
}

type streamEvent struct {
	Token         streamToken `json:"token"`
	GeneratedText *string     `json:"generated_text"`
}

type tgiStream struct {
	src        *common.SSELineSource
	requestID  string
	model      string
	terminated bool
}

func (s *tgiStream) Next(ctx context.Context) (domain.StreamChunk, bool, error) {
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
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Token.Special && ev.GeneratedText == nil {
			continue
		}
		content := ev.Token.Text
		if ev.Token.Special {
			content = ""
		}
		chunk := domain.StreamChunk{
			ID:    s.requestID,
			Model: s.model,
			Delta: domain.Delta{Content: content},
		}
		if ev.GeneratedText != nil {
			chunk.FinishReason = domain.FinishStop
			s.terminated = true
		}
		return chunk, true, nil
	}
}

func (s *tgiStream) Close() error { return s.src.Close() }

func (a *Adapter) Stream(ctx context.Context, req *domain.InferenceRequest) (domain.StreamReader, error) {
	requestID := common.NewRequestID()
	prompt := common.FormatPromptTGI(req)

	params := a.buildParams(req)
	body := generateRequest{Inputs: prompt, Parameters: params, Stream: true}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURLPath(a.endpoint, "/generate_stream"), bytes.NewReader(payload))
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
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineTGI, Endpoint: a.endpoint}, Status: resp.StatusCode, Body: string(b)}
	}

	return &tgiStream{src: common.NewSSELineSource(resp.Body), requestID: requestID, model: req.ModelID}, nil
}

type infoResponse struct {
	ModelID string `json:"model_id"`
}

func (a *Adapter) HealthCheck(ctx context.Context) (domain.HealthCheckResult, error) {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	healthReq, _ := http.NewRequestWithContext(checkCtx, http.MethodGet, util.JoinURLPath(a.endpoint, "/health"), nil)
	resp, err := a.client.Do(healthReq)
	if err != nil {
		return domain.HealthCheckResult{Status: domain.StatusUnhealthy, ErrorType: domain.HealthErrorNetwork, Err: err, Latency: time.Since(start)}, err
	}
	defer resp.Body.Close()

	status := domain.StatusHealthy
	if resp.StatusCode != http.StatusOK {
		status = domain.StatusDegraded
	}

	var models []string
	if infoReq, err := http.NewRequestWithContext(checkCtx, http.MethodGet, util.JoinURLPath(a.endpoint, "/info"), nil); err == nil {
		if infoResp, err := a.client.Do(infoReq); err == nil {
			defer infoResp.Body.Close()
			if infoResp.StatusCode == http.StatusOK {
				var info infoResponse
				if json.NewDecoder(infoResp.Body).Decode(&info) == nil {
					models = []string{info.ModelID}
				}
			}
		}
	}

	return domain.HealthCheckResult{
		Status:       status,
		Latency:      time.Since(start),
		StatusCode:   resp.StatusCode,
		ModelsLoaded: models,
	}, nil
}

func (a *Adapter) ListModels(ctx context.Context) ([]domain.ModelListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, util.JoinURLPath(a.endpoint, "/info"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{Upstream: domain.Upstream{EngineType: domain.EngineTGI, Endpoint: a.endpoint}, Status: resp.StatusCode}
	}

	var info infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return []domain.ModelListing{{ID: info.ModelID, OwnedBy: "huggingface"}}, nil
}

func (a *Adapter) Embeddings(ctx context.Context, texts []string, model string) (*domain.EmbeddingResponse, error) {
	return nil, fmt.Errorf("%w: tgi does not support embeddings", domain.ErrUnsupported)
}
