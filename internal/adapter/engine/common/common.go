// Package common holds helpers shared by every engine adapter: token
// estimation for engines that don't report native usage, prompt
// formatting, request ID generation and stream line-scanning.
package common

import (
	"strings"

	"github.com/google/uuid"

	"github.com/olla-project/inforoute/internal/core/domain"
)

// EstimateTokens approximates token count from word count when an
// engine's response doesn't carry native usage figures, matching the
// ratio used across the non-OpenAI-compatible engines, rounded up:
// ceil(words*4/3).
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

// NewRequestID mints a chat-completion-style request identifier.
func NewRequestID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// RepetitionPenalty maps the unified frequency_penalty onto the
// 1.0-based repetition/repeat penalty scale TGI and Ollama expect.
func RepetitionPenalty(frequencyPenalty float64) float64 {
	return 1.0 + frequencyPenalty
}

// FormatPromptTGI renders chat messages into TGI's role-tag format,
// closing every turn with the tokenizer's end-of-turn marker.
func FormatPromptTGI(req *domain.InferenceRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	if len(req.Messages) == 0 {
		return ""
	}
	var parts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleSystem:
			parts = append(parts, "<|system|>\n"+msg.Content+"</s>")
		case domain.RoleUser:
			parts = append(parts, "<|user|>\n"+msg.Content+"</s>")
		case domain.RoleAssistant:
			parts = append(parts, "<|assistant|>\n"+msg.Content+"</s>")
		}
	}
	parts = append(parts, "<|assistant|>\n")
	return strings.Join(parts, "\n")
}

// FormatPromptDeepSpeed renders chat messages into DeepSpeed's
// role-tag format, which (unlike TGI) does not close turns with an
// end-of-turn marker.
func FormatPromptDeepSpeed(req *domain.InferenceRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	if len(req.Messages) == 0 {
		return ""
	}
	var parts []string
	for _, msg := range req.Messages {
		parts = append(parts, "<|"+string(msg.Role)+"|>\n"+msg.Content)
	}
	parts = append(parts, "<|assistant|>\n")
	return strings.Join(parts, "\n")
}

// BuildOpenAIResponse is the Go analogue of _build_openai_response: a
// single-choice assistant message with a computed usage block.
func BuildOpenAIResponse(requestID, model, content string, promptTokens, completionTokens int, engine domain.EngineType, latencyMs float64) *domain.InferenceResponse {
	return &domain.InferenceResponse{
		ID:    requestID,
		Model: model,
		Choices: []domain.Choice{
			{
				Index: 0,
				Message: domain.Message{
					Role:    domain.RoleAssistant,
					Content: content,
				},
				FinishReason: domain.FinishStop,
			},
		},
		Usage:     domain.NewUsage(promptTokens, completionTokens),
		Engine:    engine.String(),
		LatencyMs: latencyMs,
	}
}
