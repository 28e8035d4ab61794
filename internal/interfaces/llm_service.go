package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// LLMService abstracts the language-model provider used for chunking,
// metadata generation and embeddings
type LLMService interface {
	// ChunkText splits cleaned text into semantically coherent chunk
	// descriptors with per-chunk summaries and tags
	ChunkText(ctx context.Context, cleanedText string, objectID string) ([]models.ChunkDescriptor, error)

	// GenerateDocumentMetadata produces a document-level summary, tags and
	// propositions for the given title and text
	GenerateDocumentMetadata(ctx context.Context, title, text string) (*models.DocumentMetadata, error)

	// Embed returns the embedding vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// HealthCheck verifies the provider is reachable and credentialed
	HealthCheck(ctx context.Context) error

	// GetMode reports the active provider name
	GetMode() string

	Close() error
}
