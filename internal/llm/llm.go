// Package llm integrates optional language-generation backends. The rest of
// the application treats a nil Client as "backend absent" and keeps working
// on its heuristic paths, so nothing in this package is ever required for
// correctness.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Client is the minimal capability Spectral needs from a generation backend.
type Client interface {
	// Complete sends one prompt and returns the generated text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest carries one generation call.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Config selects and tunes a provider.
type Config struct {
	Provider string // "", "claude" or "openai"
	APIKey   string
	Model    string
	BaseURL  string // provider default when empty; overridable for tests
	Timeout  time.Duration
}

const defaultTimeout = 30 * time.Second

// New returns a client for the configured provider. An empty provider returns
// (nil, nil): generation features are simply disabled.
func New(cfg Config) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch cfg.Provider {
	case "":
		return nil, nil
	case "claude":
		return newClaudeClient(cfg), nil
	case "openai":
		return newOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// truncateBody keeps provider error bodies loggable.
func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
