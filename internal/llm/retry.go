package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stagehand/internal/logging"
)

// RetryBackend wraps a GenerationBackend with bounded exponential backoff
// on transient failures. Non-transient errors return immediately.
type RetryBackend struct {
	Backend    GenerationBackend
	MaxRetries int
}

// NewRetryBackend wraps a backend with retry behavior.
func NewRetryBackend(backend GenerationBackend, maxRetries int) *RetryBackend {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryBackend{Backend: backend, MaxRetries: maxRetries}
}

// Generate calls the wrapped backend, retrying transient failures.
func (r *RetryBackend) Generate(ctx context.Context, prompt string, params Params) (*Generation, error) {
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 8*time.Second {
				backoff = 8 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				logging.LLMDebug("Retrying generation (attempt %d/%d): %v", attempt+1, r.MaxRetries+1, lastErr)
			}
		}

		gen, err := r.Backend.Generate(ctx, prompt, params)
		if err == nil {
			return gen, nil
		}

		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all %d attempts failed, last error: %w", r.MaxRetries+1, lastErr)
}

// isTransient reports whether an error is worth retrying.
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503")
}
