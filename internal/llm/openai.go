package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Querier using OpenAI
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(opts Options) (*OpenAIProvider, error) {
	key := apiKey(opts.APIKey, "TABMACRO_OPENAI_KEY", "OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("TABMACRO_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	model := opts.Model
	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIProvider{
		client:    openai.NewClient(key),
		model:     model,
		maxTokens: opts.MaxTokens,
	}, nil
}

// Query sends the prompt and returns the first choice's content
func (p *OpenAIProvider) Query(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens: p.maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from OpenAI")
	}
	return cleanAnswer(resp.Choices[0].Message.Content), nil
}
