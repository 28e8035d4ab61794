package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// JobUpdate is a partial mutation of a job row. Nil fields are left untouched.
type JobUpdate struct {
	Status          *models.JobStatus
	Priority        *int
	ErrorInfo       *string
	FailedStage     *models.JobStatus
	NextAttemptAt   *time.Time
	RelatedObjectID *string
	JobSpecificData json.RawMessage
}

// JobListOptions filters and pages job listings on the admin surface
type JobListOptions struct {
	Status  string // Comma-separated status values
	JobType string
	Limit   int
	Offset  int
}

// JobRepository - typed data-access layer over the ingestion_jobs table.
// All operations are synchronous and atomic with respect to concurrent
// repositories sharing the same database; methods surface store errors
// unchanged and never retry.
type JobRepository interface {
	// Create inserts a job with status queued and attempts 0
	Create(ctx context.Context, jobType models.JobType, sourceIdentifier string, opts *models.JobOptions) (*models.IngestionJob, error)

	// GetByID returns the job, or nil when no row matches
	GetByID(ctx context.Context, id string) (*models.IngestionJob, error)

	// GetNextJobs returns up to limit runnable jobs (queued, or retry_pending
	// with next_attempt_at due), filtered by allowedTypes, ordered by
	// priority DESC then created_at ASC. This is a read; it does not claim.
	GetNextJobs(ctx context.Context, limit int, allowedTypes []models.JobType) ([]*models.IngestionJob, error)

	// Update applies a partial mutation; returns whether a row changed
	Update(ctx context.Context, id string, upd JobUpdate) (bool, error)

	// MarkAsStarted is the claim operation: atomically moves a runnable job
	// to processing_source, increments attempts and stamps last_attempt_at.
	// Returns false when the job was not claimable (already taken, terminal,
	// or missing); the caller must only proceed on true.
	MarkAsStarted(ctx context.Context, id string) (bool, error)

	// MarkAsCompleted finalizes the job, optionally recording the produced object
	MarkAsCompleted(ctx context.Context, id string, relatedObjectID string) error

	// MarkAsFailed records a terminal failure with diagnostic detail
	MarkAsFailed(ctx context.Context, id string, errorInfo string, failedStage models.JobStatus) error

	// MarkAsRetryable schedules the next attempt after the given delay
	MarkAsRetryable(ctx context.Context, id string, errorInfo string, failedStage models.JobStatus, delay time.Duration) error

	// Cancel moves a non-active, non-terminal job to cancelled; returns
	// whether a row changed
	Cancel(ctx context.Context, id string) (bool, error)

	// Requeue resets a failed or retry_pending job to queued, clearing
	// failure detail; returns whether a row changed
	Requeue(ctx context.Context, id string) (bool, error)

	// CompleteForObject finalizes jobs left in vectorizing whose
	// related_object_id matches. Used by the embedding worker after the
	// produced object reaches embedded. Returns the number of jobs completed.
	CompleteForObject(ctx context.Context, objectID string) (int64, error)

	// List returns jobs for the admin surface, newest first
	List(ctx context.Context, opts *JobListOptions) ([]*models.IngestionJob, error)

	// GetStats returns a status -> count map
	GetStats(ctx context.Context) (models.JobStats, error)

	// CleanupOldJobs deletes terminal jobs completed more than days ago;
	// returns the number of rows deleted
	CleanupOldJobs(ctx context.Context, days int) (int64, error)

	// ResetStrandedJobs re-queues jobs stranded in progress substates by a
	// previous process; returns the number of rows changed
	ResetStrandedJobs(ctx context.Context) (int64, error)
}

// ObjectRepository - data-access layer over the objects table
type ObjectRepository interface {
	// SaveWithSeedChunk creates the object and its seed chunk in one
	// transaction, so a crash cannot leave an object without chunk zero
	SaveWithSeedChunk(ctx context.Context, obj *models.ContentObject, seed *models.Chunk) error

	// GetByID returns the object, or nil when no row matches
	GetByID(ctx context.Context, id string) (*models.ContentObject, error)

	// GetByFileHash returns the newest object with the given fingerprint,
	// or nil. When includeFailed is false, failure-state rows are skipped.
	GetByFileHash(ctx context.Context, fileHash string, includeFailed bool) (*models.ContentObject, error)

	// UpdateStatus records a lifecycle transition with optional parse
	// timestamp and failure detail
	UpdateStatus(ctx context.Context, id string, status models.ObjectStatus, parsedAt *time.Time, errorInfo string) error

	// TransitionStatus is the compare-and-set handoff: the row moves
	// from -> to only if its status still equals from. Returns whether it did.
	TransitionStatus(ctx context.Context, id string, from, to models.ObjectStatus) (bool, error)

	// NextForEmbedding returns up to limit parsed objects, oldest first
	NextForEmbedding(ctx context.Context, limit int) ([]*models.ContentObject, error)

	// Delete removes the object; chunks and embedding links cascade
	Delete(ctx context.Context, id string) error

	// List returns objects for the admin surface, newest first
	List(ctx context.Context, limit, offset int) ([]*models.ContentObject, error)

	// ResetStrandedEmbedding returns objects stranded in embedding by a
	// previous process to parsed; returns the number of rows changed
	ResetStrandedEmbedding(ctx context.Context) (int64, error)
}

// ChunkRepository - data-access layer over the chunks table
type ChunkRepository interface {
	// ReplaceForObject deletes any existing chunks for the object and bulk
	// inserts the new set in one transaction, keeping chunk_idx contiguous
	// from 0. The seed chunk written at parse time is superseded here.
	ReplaceForObject(ctx context.Context, objectID string, chunks []*models.Chunk) error

	// GetByObjectID returns the object's chunks ordered by chunk_idx
	GetByObjectID(ctx context.Context, objectID string) ([]*models.Chunk, error)

	// CountByObjectID returns the number of chunks for the object
	CountByObjectID(ctx context.Context, objectID string) (int, error)
}

// EmbeddingRepository - data-access layer over the embeddings table
type EmbeddingRepository interface {
	// Insert records a chunk -> vector link. A unique-key conflict on
	// vector_id means the link already exists; the existing row is
	// returned and no error is raised (idempotent).
	Insert(ctx context.Context, link *models.EmbeddingLink) (*models.EmbeddingLink, error)

	// GetByChunkID returns the link for (chunkID, model), or nil
	GetByChunkID(ctx context.Context, chunkID int64, model string) (*models.EmbeddingLink, error)

	// CountByObjectID counts links across all chunks of the object
	CountByObjectID(ctx context.Context, objectID string) (int, error)
}

// StorageManager bundles the typed repositories over one database
type StorageManager interface {
	Jobs() JobRepository
	Objects() ObjectRepository
	Chunks() ChunkRepository
	Embeddings() EmbeddingRepository
	Ping(ctx context.Context) error
	Close() error
}
