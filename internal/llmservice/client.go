package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"grounded-rag/internal/config"
)

// Client wraps one configured chat model. Build it once and reuse it;
// the underlying langchaingo client is safe for concurrent use.
type Client struct {
	llm llms.Model
}

// NewClient builds the chat model for the configured provider. An
// unknown provider is a configuration error, not a default.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	llm, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{llm: llm}, nil
}

func newModel(cfg *config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai", "":
		return openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown inference provider: %q", cfg.Provider)
	}
}

// call llm
func (c *Client) GenerateContent(ctx context.Context, system, user string) (string, error) {
	log.Debug().Int("system_len", len(system)).Int("user_len", len(user)).Msg("Generating content")
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: system}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: user}},
		},
	}
	res, err := c.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return res.Choices[0].Content, nil
}
