package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"golang.org/x/time/rate"
)

// ClaudeClient wraps the Anthropic SDK for completions. Claude has no
// embedding endpoint; embeddings always come from Gemini.
type ClaudeClient struct {
	config  *common.ClaudeConfig
	logger  arbor.ILogger
	client  *anthropic.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClaudeClient creates a Claude-backed completion client
func NewClaudeClient(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Claude API key is required (set ANTHROPIC_API_KEY, COLLIGO_CLAUDE_API_KEY, or claude.api_key in config)")
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid claude timeout %q: %w", config.Timeout, err)
	}

	rateInterval, err := time.ParseDuration(config.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid claude rate limit %q: %w", config.RateLimit, err)
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	logger.Info().
		Str("model", config.Model).
		Int("max_tokens", config.MaxTokens).
		Dur("timeout", timeout).
		Msg("Claude client initialized")

	return &ClaudeClient{
		config:  config,
		logger:  logger,
		client:  &client,
		limiter: rate.NewLimiter(rate.Every(rateInterval), 1),
		timeout: timeout,
	}, nil
}

// Complete generates a single completion for a system and user prompt
func (c *ClaudeClient) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if c.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(c.config.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := c.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from claude")
	}
	return response.String(), nil
}

// HealthCheck verifies API connectivity with a minimal generation
func (c *ClaudeClient) HealthCheck(ctx context.Context) error {
	_, err := c.Complete(ctx, "", "Reply with the single word: ok")
	if err != nil {
		return fmt.Errorf("claude health check failed: %w", err)
	}
	return nil
}

// Name reports the provider name
func (c *ClaudeClient) Name() string {
	return string(common.LLMProviderClaude)
}

// Close releases the client reference
func (c *ClaudeClient) Close() error {
	c.client = nil
	return nil
}
