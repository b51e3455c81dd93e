// Package llm answers free-form questions about page content using a hosted language model.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Querier sends one prompt to a language model and returns its text reply
type Querier interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// Options selects and tunes a provider
type Options struct {
	Provider  string
	Model     string
	MaxTokens int
	APIKey    string // falls back to the provider's environment variables when empty
}

// NewProvider creates a new provider based on the provider name, ignoring case
func NewProvider(opts Options) (Querier, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "claude", "anthropic":
		return NewClaudeProvider(opts)
	case "openai", "gpt":
		return NewOpenAIProvider(opts)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", opts.Provider)
	}
}

// apiKey returns the explicit key or the first non-empty environment variable
func apiKey(explicit string, envVars ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
