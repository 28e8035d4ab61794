package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// EmbeddingStorage implements SQLite storage for chunk embedding links
type EmbeddingStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewEmbeddingStorage creates a new embedding storage instance
func NewEmbeddingStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.EmbeddingRepository {
	return &EmbeddingStorage{
		db:     db,
		logger: logger,
	}
}

// Insert records a chunk -> vector link. Re-running an embedding pass may
// hit either unique constraint: the vector_id is already linked, or the
// (chunk_id, model) pair already has a vector. Either way the existing row
// is returned untouched.
func (s *EmbeddingStorage) Insert(ctx context.Context, link *models.EmbeddingLink) (*models.EmbeddingLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}

	query := `
		INSERT INTO embeddings (chunk_id, model, vector_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`
	result, err := s.db.db.ExecContext(ctx, query,
		link.ChunkID,
		link.Model,
		link.VectorID,
		link.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert embedding link: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Stored row wins regardless of which constraint fired
		existing, err := s.getByVectorID(ctx, link.VectorID)
		if err != nil || existing != nil {
			return existing, err
		}
		return s.GetByChunkID(ctx, link.ChunkID, link.Model)
	}

	if id, err := result.LastInsertId(); err == nil {
		link.ID = id
	}
	return link, nil
}

// GetByChunkID returns the link for (chunkID, model), or nil
func (s *EmbeddingStorage) GetByChunkID(ctx context.Context, chunkID int64, model string) (*models.EmbeddingLink, error) {
	query := `SELECT id, chunk_id, model, vector_id, created_at FROM embeddings WHERE chunk_id = ? AND model = ?`
	link, err := scanEmbeddingLink(s.db.db.QueryRowContext(ctx, query, chunkID, model))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return link, err
}

// CountByObjectID counts links across all chunks of the object
func (s *EmbeddingStorage) CountByObjectID(ctx context.Context, objectID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE c.object_id = ?
	`, objectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count embedding links: %w", err)
	}
	return count, nil
}

func (s *EmbeddingStorage) getByVectorID(ctx context.Context, vectorID string) (*models.EmbeddingLink, error) {
	query := `SELECT id, chunk_id, model, vector_id, created_at FROM embeddings WHERE vector_id = ?`
	link, err := scanEmbeddingLink(s.db.db.QueryRowContext(ctx, query, vectorID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return link, err
}

func scanEmbeddingLink(row scanner) (*models.EmbeddingLink, error) {
	var link models.EmbeddingLink
	var createdAt int64

	err := row.Scan(&link.ID, &link.ChunkID, &link.Model, &link.VectorID, &createdAt)
	if err != nil {
		return nil, err
	}
	link.CreatedAt = unixToTime(createdAt)
	return &link, nil
}
