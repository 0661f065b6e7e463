// Package llm defines the generation backend interface and its provider
// implementations. Backends must report true token usage so the carousel
// budget can reconcile estimates against actual consumption.
package llm

import "context"

// Params are per-call generation parameters.
type Params struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
}

// TokenUsage captures token consumption for one generation call.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Generation is the result of one generation call.
type Generation struct {
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason"`
	Model        string     `json:"model"`
	Usage        TokenUsage `json:"usage"`
}

// GenerationBackend is the provider interface the executor calls once per act.
type GenerationBackend interface {
	Generate(ctx context.Context, prompt string, params Params) (*Generation, error)
}
