package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// VectorStore persists embedded documents and answers similarity queries
type VectorStore interface {
	// AddDocuments stores the documents and returns their vector IDs in the
	// same order. When ids is non-nil it must match docs in length and the
	// given IDs are used; otherwise IDs are generated.
	AddDocuments(ctx context.Context, docs []*models.VectorDocument, ids []string) ([]string, error)

	// QuerySimilarByText embeds the query and returns the k nearest
	// documents, optionally restricted by exact-match metadata filters
	QuerySimilarByText(ctx context.Context, query string, k int, filter map[string]interface{}) ([]*models.ScoredDocument, error)

	// DeleteDocumentsByIds removes the documents; unknown IDs are ignored
	DeleteDocumentsByIds(ctx context.Context, ids []string) error

	Close() error
}
