package llm

import (
	"context"

	"github.com/zeussilver/insitu-finance-agent/internal/config"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// NewClient builds the backend named by the configuration. An unknown
// provider, or a Gemini client that fails to initialize, falls back to
// the mock backend with a logged warning.
func NewClient(ctx context.Context, cfg config.LLMConfig) types.LLMClient {
	log := logging.Get(logging.CategoryLLM)
	switch cfg.Provider {
	case "openai":
		log.Infow("llm backend ready", "provider", "openai", "model", cfg.Model, "base_url", cfg.BaseURL)
		return NewOpenAIClient(cfg)
	case "gemini":
		client, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			log.Warnw("gemini init failed, using mock", "error", err)
			return NewMockClient()
		}
		log.Infow("llm backend ready", "provider", "gemini", "model", cfg.Model)
		return client
	case "mock", "":
		log.Infow("llm backend ready", "provider", "mock")
		return NewMockClient()
	default:
		log.Warnw("unknown llm provider, using mock", "provider", cfg.Provider)
		return NewMockClient()
	}
}
