// -----------------------------------------------------------------------
// Badger Vector Store - Local vector persistence over BadgerHold with
// brute-force cosine similarity search
// -----------------------------------------------------------------------

package vectorstore

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Embedder turns text into a vector. Satisfied by the LLM service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// storedVector is the on-disk record for one embedded document
type storedVector struct {
	VectorID  string `badgerhold:"key"`
	Content   string
	Metadata  map[string]interface{}
	Vector    []float32
	CreatedAt time.Time
}

// BadgerStore implements VectorStore over a local BadgerHold database.
// Search is brute force; at personal-knowledge-base scale a full scan
// stays well under query latency budgets and needs no index maintenance.
type BadgerStore struct {
	store    *badgerhold.Store
	embedder Embedder
	logger   arbor.ILogger
}

var _ interfaces.VectorStore = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the vector database at config.Path
func NewBadgerStore(config *common.VectorsConfig, embedder Embedder, logger arbor.ILogger) (*BadgerStore, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing vector database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete vector database directory")
			}
		}
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Vector database initialized")

	return &BadgerStore{
		store:    store,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// AddDocuments embeds and stores the documents, returning vector IDs in
// input order. Caller-provided ids win; otherwise fresh IDs are generated.
func (s *BadgerStore) AddDocuments(ctx context.Context, docs []*models.VectorDocument, ids []string) ([]string, error) {
	if ids != nil && len(ids) != len(docs) {
		return nil, fmt.Errorf("ids length %d does not match docs length %d", len(ids), len(docs))
	}

	out := make([]string, 0, len(docs))
	for i, doc := range docs {
		id := ""
		switch {
		case ids != nil:
			id = ids[i]
		case doc.ID != "":
			id = doc.ID
		default:
			id = common.NewVectorID()
		}

		vector, err := s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to embed document %s: %w", id, err)
		}

		record := &storedVector{
			VectorID:  id,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Vector:    vector,
			CreatedAt: time.Now(),
		}
		if err := s.store.Upsert(id, record); err != nil {
			return nil, fmt.Errorf("failed to store vector %s: %w", id, err)
		}
		out = append(out, id)
	}

	s.logger.Debug().Int("count", len(out)).Msg("Documents added to vector store")
	return out, nil
}

// QuerySimilarByText embeds the query and returns the k most similar
// documents by cosine similarity, filtered by exact metadata match.
func (s *BadgerStore) QuerySimilarByText(ctx context.Context, query string, k int, filter map[string]interface{}) ([]*models.ScoredDocument, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var records []storedVector
	if err := s.store.Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to scan vector store: %w", err)
	}

	scored := make([]*models.ScoredDocument, 0, len(records))
	for i := range records {
		record := &records[i]
		if !matchesFilter(record.Metadata, filter) {
			continue
		}
		scored = append(scored, &models.ScoredDocument{
			Document: models.VectorDocument{
				ID:       record.VectorID,
				Content:  record.Content,
				Metadata: record.Metadata,
			},
			Score: cosineSimilarity(queryVector, record.Vector),
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// DeleteDocumentsByIds removes the documents; unknown IDs are ignored
func (s *BadgerStore) DeleteDocumentsByIds(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.store.Delete(id, &storedVector{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return fmt.Errorf("failed to delete vector %s: %w", id, err)
		}
	}
	return nil
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// matchesFilter returns true when every filter key is present in the
// metadata with an equal value. Numeric values are compared loosely since
// JSON round-trips integers as float64.
func matchesFilter(metadata, filter map[string]interface{}) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
