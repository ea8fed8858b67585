package types

import "context"

// LLMClient is the minimal completion surface every model backend
// implements. Backends live in internal/llm.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, system, user string) (string, error)
}
