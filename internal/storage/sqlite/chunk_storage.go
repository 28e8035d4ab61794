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

// ChunkStorage implements SQLite storage for chunks
type ChunkStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewChunkStorage creates a new chunk storage instance
func NewChunkStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ChunkRepository {
	return &ChunkStorage{
		db:     db,
		logger: logger,
	}
}

// ReplaceForObject deletes any existing chunks for the object and bulk
// inserts the new set in one transaction. The whole replacement is atomic:
// readers see either the old set or the new one, never a mix.
func (s *ChunkStorage) ReplaceForObject(ctx context.Context, objectID string, chunks []*models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE object_id = ?`, objectID); err != nil {
		return fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	now := time.Now()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (object_id, chunk_idx, content, summary, tags_json, propositions_json, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		var summary, tags, propositions sql.NullString
		setNullString(&summary, chunk.Summary)
		setNullString(&tags, chunk.TagsJSON)
		setNullString(&propositions, chunk.PropositionsJSON)

		createdAt := chunk.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		result, err := stmt.ExecContext(ctx,
			objectID,
			chunk.ChunkIdx,
			chunk.Content,
			summary,
			tags,
			propositions,
			chunk.TokenCount,
			createdAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIdx, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			chunk.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}

	s.logger.Debug().
		Str("object_id", objectID).
		Int("chunks", len(chunks)).
		Msg("Chunks replaced")

	return nil
}

// GetByObjectID returns the object's chunks ordered by chunk_idx
func (s *ChunkStorage) GetByObjectID(ctx context.Context, objectID string) ([]*models.Chunk, error) {
	query := `
		SELECT id, object_id, chunk_idx, content, summary, tags_json, propositions_json, token_count, created_at
		FROM chunks WHERE object_id = ? ORDER BY chunk_idx ASC
	`
	rows, err := s.db.db.QueryContext(ctx, query, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var summary, tags, propositions sql.NullString
		var createdAt int64

		err := rows.Scan(
			&chunk.ID,
			&chunk.ObjectID,
			&chunk.ChunkIdx,
			&chunk.Content,
			&summary,
			&tags,
			&propositions,
			&chunk.TokenCount,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}

		chunk.Summary = summary.String
		chunk.TagsJSON = tags.String
		chunk.PropositionsJSON = propositions.String
		chunk.CreatedAt = unixToTime(createdAt)
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// CountByObjectID returns the number of chunks for the object
func (s *ChunkStorage) CountByObjectID(ctx context.Context, objectID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE object_id = ?`, objectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}
