package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zeussilver/insitu-finance-agent/internal/config"
)

// GeminiClient uses the Gemini API as the model backend.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiClient builds a Gemini-backed client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Complete sends a single user prompt.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a system+user prompt pair.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(c.temperature)}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("LLM API Error: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("LLM API Error: empty response")
	}
	return text, nil
}
