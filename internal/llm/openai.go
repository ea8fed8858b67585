package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zeussilver/insitu-finance-agent/internal/config"
)

// OpenAIClient talks to any OpenAI-compatible endpoint (including
// DashScope's compatible mode).
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClient builds a client from the configuration. BaseURL
// overrides the default endpoint when set.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Complete sends a single user prompt.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a system+user prompt pair.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: user,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API Error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM API Error: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
