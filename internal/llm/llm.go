package llm

import (
	"context"
	"fmt"

	"Minerva/internal/config"
)

// LLM is the interface for a large language model that can generate text.
// The conversational core treats language generation as a synchronous
// external collaborator: callers bound every request with a context
// deadline and handle the explicit error result.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewClient is a factory function that creates an LLM client from the
// configured provider.
func NewClient(cfg config.LLMConfig) (LLM, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(context.Background(), cfg.Gemini.Model, cfg.Gemini.APIKey)
	case "openai":
		return NewOpenAI(cfg.OpenAI.Model, cfg.OpenAI.APIKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
