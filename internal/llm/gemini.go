package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"stagehand/internal/logging"
)

// GeminiClient implements GenerationBackend using Google's Gemini API.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// NewGeminiClient creates a new Gemini generation backend.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		defaultModel: model,
	}, nil
}

// Generate sends a prompt and returns the completion with true token usage.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, params Params) (*Generation, error) {
	model := params.Model
	if model == "" {
		model = c.defaultModel
	}

	cfg := &genai.GenerateContentConfig{}
	if params.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(params.System, genai.RoleUser)
	}
	if params.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(params.Temperature))
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		logging.Get(logging.CategoryLLM).Error("Gemini generate failed after %v: %v", time.Since(start), err)
		return nil, fmt.Errorf("Gemini generate failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates returned")
	}

	gen := &Generation{
		Text:         strings.TrimSpace(resp.Text()),
		FinishReason: string(resp.Candidates[0].FinishReason),
		Model:        model,
	}

	if resp.UsageMetadata != nil {
		gen.Usage = TokenUsage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
		}
	}

	logging.LLMDebug("Gemini generate: model=%s, tokens=%d/%d, elapsed=%v",
		model, gen.Usage.PromptTokens, gen.Usage.CompletionTokens, time.Since(start))

	return gen, nil
}
