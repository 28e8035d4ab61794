package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiClient wraps the genai SDK for completions and embeddings
type GeminiClient struct {
	config  *common.GeminiConfig
	dim     int
	logger  arbor.ILogger
	client  *genai.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGeminiClient creates a Gemini-backed completion and embedding client
func NewGeminiClient(config *common.GeminiConfig, dim int, logger arbor.ILogger) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY, COLLIGO_GEMINI_API_KEY, or gemini.api_key in config)")
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini timeout %q: %w", config.Timeout, err)
	}

	rateInterval, err := time.ParseDuration(config.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini rate limit %q: %w", config.RateLimit, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Info().
		Str("model", config.Model).
		Str("embed_model", config.EmbedModel).
		Int("embed_dim", dim).
		Dur("timeout", timeout).
		Msg("Gemini client initialized")

	return &GeminiClient{
		config:  config,
		dim:     dim,
		logger:  logger,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(rateInterval), 1),
		timeout: timeout,
	}, nil
}

// Complete generates a single completion for a system and user prompt
func (c *GeminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.config.Temperature),
	}
	if system != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(timeoutCtx, c.config.Model, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	var response strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from gemini")
	}
	return response.String(), nil
}

// Embed generates an embedding vector with the configured dimensionality
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outputDim := int32(c.dim)
	result, err := c.client.Models.EmbedContent(timeoutCtx, c.config.EmbedModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &outputDim},
	)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if embedding == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	if len(embedding) != c.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dim, len(embedding))
	}
	return embedding, nil
}

// HealthCheck verifies API connectivity with a minimal generation
func (c *GeminiClient) HealthCheck(ctx context.Context) error {
	_, err := c.Complete(ctx, "", "Reply with the single word: ok")
	if err != nil {
		return fmt.Errorf("gemini health check failed: %w", err)
	}
	return nil
}

// Name reports the provider name
func (c *GeminiClient) Name() string {
	return string(common.LLMProviderGemini)
}

// Close releases the client reference
func (c *GeminiClient) Close() error {
	c.client = nil
	return nil
}
