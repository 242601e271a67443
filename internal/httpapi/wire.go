package httpapi

import (
	"encoding/json"

	"github.com/olla-project/inforoute/internal/core/domain"
)

// chatRequestWire is the OpenAI-compatible wire shape for
// /v1/chat/completions and /v1/completions. It differs from
// domain.InferenceRequest only in naming ("model" instead of
// "model_id", matching the external contract) and in applying
// OpenAI-style defaults before conversion.
type chatRequestWire struct {
	Model            string           `json:"model"`
	Messages         []domain.Message `json:"messages,omitempty"`
	Prompt           string           `json:"prompt,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	TopK             int              `json:"top_k,omitempty"`
	MaxTokens        int              `json:"max_tokens,omitempty"`
	FrequencyPenalty float64          `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64          `json:"presence_penalty,omitempty"`
	Stop             []string         `json:"stop,omitempty"`
	Stream           bool             `json:"stream,omitempty"`
	N                int              `json:"n,omitempty"`
	Extra            map[string]any   `json:"extra,omitempty"`
}

const (
	defaultTemperature = 1.0
	defaultTopP        = 1.0
	defaultMaxTokens   = 16
)

func (w *chatRequestWire) toDomain() *domain.InferenceRequest {
	req := &domain.InferenceRequest{
		ModelID:          w.Model,
		Messages:         w.Messages,
		Prompt:           w.Prompt,
		TopK:             w.TopK,
		MaxTokens:        w.MaxTokens,
		FrequencyPenalty: w.FrequencyPenalty,
		PresencePenalty:  w.PresencePenalty,
		Stop:             w.Stop,
		Stream:           w.Stream,
		N:                w.N,
		Extra:            w.Extra,
	}
	if w.Temperature != nil {
		req.Temperature = *w.Temperature
	} else {
		req.Temperature = defaultTemperature
	}
	if w.TopP != nil {
		req.TopP = *w.TopP
	} else {
		req.TopP = defaultTopP
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	return req
}

// embeddingRequestWire accepts either a single string or an array of
// strings for "input", matching the OpenAI embeddings contract.
type embeddingRequestWire struct {
	Model string          `json:"model"`
	Input embeddingsInput `json:"input"`
}

type embeddingsInput []string

func (i *embeddingsInput) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*i = embeddingsInput{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*i = embeddingsInput(many)
	return nil
}

func (w *embeddingRequestWire) toDomain() *domain.EmbeddingRequest {
	return &domain.EmbeddingRequest{ModelID: w.Model, Input: []string(w.Input)}
}

// chunkWire is the SSE payload shape: the non-streaming choices[0]
// schema with "message" replaced by "delta" and empty fields omitted.
type chunkWire struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Delta        domain.Delta `json:"delta"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

func toChunkWire(c domain.StreamChunk) chunkWire {
	return chunkWire{ID: c.ID, Model: c.Model, Delta: c.Delta, FinishReason: string(c.FinishReason)}
}

// modelsResponseWire is the /v1/models wire shape.
type modelsResponseWire struct {
	Data []domain.ModelListing `json:"data"`
}
