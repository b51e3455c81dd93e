package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider implements Querier using Anthropic's Claude
type ClaudeProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(opts Options) (*ClaudeProvider, error) {
	key := apiKey(opts.APIKey, "TABMACRO_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("TABMACRO_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	client := anthropic.NewClient(option.WithAPIKey(key))

	model := opts.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeProvider{
		client:    &client,
		model:     model,
		maxTokens: opts.MaxTokens,
	}, nil
}

// Query sends the prompt and returns the first text block of the reply
func (p *ClaudeProvider) Query(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return cleanAnswer(block.Text), nil
		}
	}
	return "", fmt.Errorf("empty response from Claude")
}
