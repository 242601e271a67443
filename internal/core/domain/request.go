package domain

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a chat-style conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// InferenceRequest is the unified, immutable request shape accepted by
// the Router. It is constructed once per caller request and shared,
// read-only, across every retry attempt.
type InferenceRequest struct {
	ModelID          string            `json:"model_id"`
	Messages         []Message         `json:"messages,omitempty"`
	Prompt           string            `json:"prompt,omitempty"`
	Temperature      float64           `json:"temperature"`
	TopP             float64           `json:"top_p"`
	TopK             int               `json:"top_k"`
	MaxTokens        int               `json:"max_tokens"`
	FrequencyPenalty float64           `json:"frequency_penalty"`
	PresencePenalty  float64           `json:"presence_penalty"`
	Stop             []string          `json:"stop,omitempty"`
	Stream           bool              `json:"stream"`
	N                int               `json:"n,omitempty"`
	Extra            map[string]any    `json:"extra,omitempty"`
}

// IsChat reports whether the request carries a chat-style message list
// rather than a raw completion prompt.
func (r *InferenceRequest) IsChat() bool {
	return len(r.Messages) > 0
}

// RequiredCapability returns the capability tag this request needs
// from a candidate ModelEntry.
func (r *InferenceRequest) RequiredCapability() Capability {
	if r.Stream {
		return CapabilityStreaming
	}
	if r.IsChat() {
		return CapabilityChat
	}
	return CapabilityCompletion
}

// Validate applies the bounds named in the data model: temperature in
// [0,2], top_p in (0,1], top_k >= -1, max_tokens >= 1.
func (r *InferenceRequest) Validate() error {
	if r.ModelID == "" {
		return &ValidationError{Field: "model_id", Reason: "must not be empty"}
	}
	if !r.IsChat() && r.Prompt == "" {
		return &ValidationError{Field: "messages/prompt", Reason: "exactly one of messages or prompt is required"}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return &ValidationError{Field: "temperature", Reason: "must be in [0,2]"}
	}
	if r.TopP <= 0 || r.TopP > 1 {
		return &ValidationError{Field: "top_p", Reason: "must be in (0,1]"}
	}
	if r.TopK < -1 {
		return &ValidationError{Field: "top_k", Reason: "must be >= -1"}
	}
	if r.MaxTokens < 1 {
		return &ValidationError{Field: "max_tokens", Reason: "must be >= 1"}
	}
	return nil
}

// EmbeddingRequest is the unified shape for /v1/embeddings.
type EmbeddingRequest struct {
	ModelID string   `json:"model_id"`
	Input   []string `json:"input"`
}
