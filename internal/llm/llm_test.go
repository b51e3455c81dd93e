package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderSelection(t *testing.T) {
	t.Setenv("TABMACRO_ANTHROPIC_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("TABMACRO_OPENAI_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewProvider(Options{Provider: "claude"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	_, err = NewProvider(Options{Provider: "openai"})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = NewProvider(Options{Provider: " OpenAI "})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = NewProvider(Options{Provider: "Claude"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	_, err = NewProvider(Options{Provider: "llama"})
	assert.ErrorContains(t, err, "unknown provider")

	q, err := NewProvider(Options{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	o, ok := q.(*OpenAIProvider)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", o.model)
	assert.Equal(t, 1024, o.maxTokens)

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	q, err = NewProvider(Options{Model: "claude-test", MaxTokens: 64})
	require.NoError(t, err)
	c, ok := q.(*ClaudeProvider)
	require.True(t, ok)
	assert.Equal(t, "claude-test", c.model)
	assert.Equal(t, 64, c.maxTokens)
}

func TestBuildInferPrompt(t *testing.T) {
	got := BuildInferPrompt(`<span class="price">$4.20</span>`, "Extract the price as a number")
	assert.Equal(t, "HTML:\n<span class=\"price\">$4.20</span>\n\nInstruction: Extract the price as a number", got)
}

func TestCleanAnswer(t *testing.T) {
	tests := map[string]string{
		"  4.20  ":                "4.20",
		`"yes"`:                   "yes",
		"```\nhello\n```":         "hello",
		"```text\nhello world```": "hello world",
		"":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanAnswer(in), "input %q", in)
	}
}
