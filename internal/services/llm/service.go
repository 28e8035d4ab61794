package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Completer is the minimal text-generation surface a provider must offer
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	HealthCheck(ctx context.Context) error
	Name() string
	Close() error
}

// Embedder generates embedding vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service implements the LLM service by composing a completion provider
// with an embedding provider. The two may be the same client (Gemini) or
// different ones (Claude completions with Gemini embeddings).
type Service struct {
	completer Completer
	embedder  Embedder
	logger    arbor.ILogger
}

// NewService creates an LLM service from a completer and an embedder
func NewService(completer Completer, embedder Embedder, logger arbor.ILogger) interfaces.LLMService {
	return &Service{
		completer: completer,
		embedder:  embedder,
		logger:    logger,
	}
}

// ChunkText splits cleaned text into validated chunk descriptors
func (s *Service) ChunkText(ctx context.Context, cleanedText string, objectID string) ([]models.ChunkDescriptor, error) {
	if cleanedText == "" {
		return nil, fmt.Errorf("cleaned text is empty for object %s", objectID)
	}

	response, err := s.completer.Complete(ctx, chunkingSystemPrompt, buildChunkingPrompt(cleanedText))
	if err != nil {
		return nil, fmt.Errorf("chunking completion failed: %w", err)
	}

	descriptors, err := parseChunkDescriptors(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunking response for object %s: %w", objectID, err)
	}

	s.logger.Debug().
		Str("object_id", objectID).
		Int("chunks", len(descriptors)).
		Int("text_length", len(cleanedText)).
		Msg("Text chunked")

	return descriptors, nil
}

// GenerateDocumentMetadata produces a document-level summary, tags and propositions
func (s *Service) GenerateDocumentMetadata(ctx context.Context, title, text string) (*models.DocumentMetadata, error) {
	if text == "" {
		return nil, fmt.Errorf("document text is empty")
	}

	response, err := s.completer.Complete(ctx, metadataSystemPrompt, buildMetadataPrompt(title, text))
	if err != nil {
		return nil, fmt.Errorf("metadata completion failed: %w", err)
	}

	metadata, err := parseDocumentMetadata(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata response: %w", err)
	}
	return metadata, nil
}

// Embed generates an embedding vector for the given text
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// HealthCheck verifies the completion provider is reachable
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.completer.HealthCheck(ctx)
}

// GetMode reports the active completion provider
func (s *Service) GetMode() string {
	return s.completer.Name()
}

// Close releases provider resources
func (s *Service) Close() error {
	return s.completer.Close()
}
