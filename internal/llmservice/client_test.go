package llmservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/config"
)

func TestNewClientProviders(t *testing.T) {
	ollama, err := NewClient(&config.LLMConfig{
		Provider: "ollama",
		BaseURL:  "http://localhost:11434",
		Model:    "llama3.1",
	})
	require.NoError(t, err)
	assert.NotNil(t, ollama)

	openAI, err := NewClient(&config.LLMConfig{
		Provider: "openai",
		BaseURL:  "https://openrouter.ai/api/v1",
		Key:      "sk-test",
		Model:    "gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.NotNil(t, openAI)
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(&config.LLMConfig{Provider: "bedrock", Model: "claude"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown inference provider")
}
