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

const objectColumns = `id, object_type, source_uri, file_hash, title, cleaned_text, summary,
	parsed_content_json, ai_metadata_json, propositions_json, tags_json, status, error_info,
	parsed_at, summary_generated_at, last_accessed_at, internal_file_path, created_at, updated_at`

// ObjectStorage implements SQLite storage for content objects
type ObjectStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewObjectStorage creates a new object storage instance
func NewObjectStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ObjectRepository {
	return &ObjectStorage{
		db:     db,
		logger: logger,
	}
}

// SaveWithSeedChunk creates the object and its seed chunk in one transaction
func (s *ObjectStorage) SaveWithSeedChunk(ctx context.Context, obj *models.ContentObject, seed *models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	obj.UpdatedAt = now

	var fileHash, summary, parsedContent, aiMetadata, propositions, tags, errorInfo, internalFilePath sql.NullString
	setNullString(&fileHash, obj.FileHash)
	setNullString(&summary, obj.Summary)
	setNullString(&parsedContent, obj.ParsedContentJSON)
	setNullString(&aiMetadata, obj.AIMetadataJSON)
	setNullString(&propositions, obj.PropositionsJSON)
	setNullString(&tags, obj.TagsJSON)
	setNullString(&errorInfo, obj.ErrorInfo)
	setNullString(&internalFilePath, obj.InternalFilePath)

	var parsedAt, summaryGeneratedAt, lastAccessedAt sql.NullInt64
	setNullTime(&parsedAt, obj.ParsedAt)
	setNullTime(&summaryGeneratedAt, obj.SummaryGeneratedAt)
	setNullTime(&lastAccessedAt, obj.LastAccessedAt)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO objects (
			id, object_type, source_uri, file_hash, title, cleaned_text, summary,
			parsed_content_json, ai_metadata_json, propositions_json, tags_json, status, error_info,
			parsed_at, summary_generated_at, last_accessed_at, internal_file_path, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		obj.ID,
		string(obj.ObjectType),
		obj.SourceURI,
		fileHash,
		obj.Title,
		obj.CleanedText,
		summary,
		parsedContent,
		aiMetadata,
		propositions,
		tags,
		string(obj.Status),
		errorInfo,
		parsedAt,
		summaryGeneratedAt,
		lastAccessedAt,
		internalFilePath,
		obj.CreatedAt.Unix(),
		obj.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert object: %w", err)
	}

	if seed != nil {
		var seedSummary, seedTags, seedPropositions sql.NullString
		setNullString(&seedSummary, seed.Summary)
		setNullString(&seedTags, seed.TagsJSON)
		setNullString(&seedPropositions, seed.PropositionsJSON)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (object_id, chunk_idx, content, summary, tags_json, propositions_json, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			obj.ID,
			seed.ChunkIdx,
			seed.Content,
			seedSummary,
			seedTags,
			seedPropositions,
			seed.TokenCount,
			now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert seed chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit object: %w", err)
	}

	s.logger.Info().
		Str("object_id", obj.ID).
		Str("object_type", string(obj.ObjectType)).
		Str("status", string(obj.Status)).
		Msg("Object saved")

	return nil
}

// GetByID returns the object, or nil when no row matches
func (s *ObjectStorage) GetByID(ctx context.Context, id string) (*models.ContentObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects WHERE id = ?`
	obj, err := scanObject(s.db.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return obj, err
}

// GetByFileHash returns the newest object with the given fingerprint, or nil.
// Failure-state rows are skipped unless includeFailed is set.
func (s *ObjectStorage) GetByFileHash(ctx context.Context, fileHash string, includeFailed bool) (*models.ContentObject, error) {
	if fileHash == "" {
		return nil, nil
	}

	query := `SELECT ` + objectColumns + ` FROM objects WHERE file_hash = ?`
	if !includeFailed {
		query += ` AND status NOT IN ('fetch_failed', 'parse_failed', 'embedding_failed', 'error')`
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	obj, err := scanObject(s.db.db.QueryRowContext(ctx, query, fileHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return obj, err
}

// UpdateStatus records a lifecycle transition
func (s *ObjectStorage) UpdateStatus(ctx context.Context, id string, status models.ObjectStatus, parsedAt *time.Time, errorInfo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var parsedAtVal sql.NullInt64
	setNullTime(&parsedAtVal, parsedAt)

	var errorVal sql.NullString
	if errorInfo != "" {
		errorVal = sql.NullString{String: truncateError(errorInfo), Valid: true}
	}

	query := `
		UPDATE objects
		SET status = ?, error_info = ?, parsed_at = COALESCE(?, parsed_at), updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(status),
		errorVal,
		parsedAtVal,
		now.Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update object status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("object %s not found", id)
	}
	return nil
}

// TransitionStatus is the compare-and-set handoff between workers: the row
// moves only if its status still equals from, so two workers can never both
// own the same object.
func (s *ObjectStorage) TransitionStatus(ctx context.Context, id string, from, to models.ObjectStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `UPDATE objects SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := s.db.db.ExecContext(ctx, query,
		string(to),
		now.Unix(),
		id,
		string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition object status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// NextForEmbedding returns up to limit parsed objects, oldest first
func (s *ObjectStorage) NextForEmbedding(ctx context.Context, limit int) ([]*models.ContentObject, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT ` + objectColumns + ` FROM objects WHERE status = 'parsed' ORDER BY updated_at ASC LIMIT ?`
	rows, err := s.db.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query objects for embedding: %w", err)
	}
	defer rows.Close()

	return scanObjects(rows)
}

// Delete removes the object; chunks and embedding links cascade
func (s *ObjectStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("object %s not found", id)
	}

	s.logger.Info().Str("object_id", id).Msg("Object deleted")
	return nil
}

// List returns objects for the admin surface, newest first
func (s *ObjectStorage) List(ctx context.Context, limit, offset int) ([]*models.ContentObject, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + objectColumns + ` FROM objects ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	return scanObjects(rows)
}

// ResetStrandedEmbedding returns objects stranded in embedding by a previous
// process to parsed so the worker picks them up again
func (s *ObjectStorage) ResetStrandedEmbedding(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	result, err := s.db.db.ExecContext(ctx,
		`UPDATE objects SET status = 'parsed', updated_at = ? WHERE status = 'embedding'`,
		now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stranded embedding objects: %w", err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		s.logger.Warn().Int64("reset", reset).Msg("Stranded embedding objects returned to parsed")
	}
	return reset, nil
}

func setNullString(dst *sql.NullString, value string) {
	if value != "" {
		dst.String = value
		dst.Valid = true
	}
}

func setNullTime(dst *sql.NullInt64, value *time.Time) {
	if value != nil && !value.IsZero() {
		dst.Int64 = value.Unix()
		dst.Valid = true
	}
}

func scanObject(row scanner) (*models.ContentObject, error) {
	var obj models.ContentObject
	var objectType, status string
	var fileHash, summary, parsedContent, aiMetadata, propositions, tags, errorInfo, internalFilePath sql.NullString
	var parsedAt, summaryGeneratedAt, lastAccessedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&obj.ID,
		&objectType,
		&obj.SourceURI,
		&fileHash,
		&obj.Title,
		&obj.CleanedText,
		&summary,
		&parsedContent,
		&aiMetadata,
		&propositions,
		&tags,
		&status,
		&errorInfo,
		&parsedAt,
		&summaryGeneratedAt,
		&lastAccessedAt,
		&internalFilePath,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	obj.ObjectType = models.ObjectType(objectType)
	obj.Status = models.ObjectStatus(status)
	obj.FileHash = fileHash.String
	obj.Summary = summary.String
	obj.ParsedContentJSON = parsedContent.String
	obj.AIMetadataJSON = aiMetadata.String
	obj.PropositionsJSON = propositions.String
	obj.TagsJSON = tags.String
	obj.ErrorInfo = errorInfo.String
	obj.InternalFilePath = internalFilePath.String
	if parsedAt.Valid {
		t := unixToTime(parsedAt.Int64)
		obj.ParsedAt = &t
	}
	if summaryGeneratedAt.Valid {
		t := unixToTime(summaryGeneratedAt.Int64)
		obj.SummaryGeneratedAt = &t
	}
	if lastAccessedAt.Valid {
		t := unixToTime(lastAccessedAt.Int64)
		obj.LastAccessedAt = &t
	}
	obj.CreatedAt = unixToTime(createdAt)
	obj.UpdatedAt = unixToTime(updatedAt)

	return &obj, nil
}

func scanObjects(rows *sql.Rows) ([]*models.ContentObject, error) {
	var objects []*models.ContentObject
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}
