package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// NewLLMService builds the LLM service for the configured provider.
// Gemini is always initialized because embeddings come from it regardless
// of which provider handles completions.
func NewLLMService(config *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	gemini, err := NewGeminiClient(&config.Gemini, config.Embedding.Dim, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}

	switch config.LLM.DefaultProvider {
	case common.LLMProviderGemini, "":
		return NewService(gemini, gemini, logger), nil
	case common.LLMProviderClaude:
		claude, err := NewClaudeClient(&config.Claude, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize claude client: %w", err)
		}
		return NewService(claude, gemini, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", config.LLM.DefaultProvider)
	}
}
