package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// unixToTime converts Unix timestamp to time.Time
func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}

// splitAndTrim splits a string by delimiter and trims whitespace from each part
func splitAndTrim(s string, delimiter string) []string {
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// truncateError caps diagnostic detail so a pathological error message
// cannot bloat a job row
func truncateError(errorInfo string) string {
	const maxErrorLen = 1000
	if len(errorInfo) > maxErrorLen {
		return errorInfo[:maxErrorLen]
	}
	return errorInfo
}

const jobColumns = `id, job_type, source_identifier, original_file_name, priority, status, attempts,
	last_attempt_at, next_attempt_at, completed_at, error_info, failed_stage,
	job_specific_data, related_object_id, created_at, updated_at`

// JobStorage implements SQLite storage for ingestion jobs
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobRepository {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new job in queued state
func (s *JobStorage) Create(ctx context.Context, jobType models.JobType, sourceIdentifier string, opts *models.JobOptions) (*models.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sourceIdentifier == "" {
		return nil, fmt.Errorf("source identifier is required")
	}

	now := time.Now()
	job := &models.IngestionJob{
		ID:               common.NewJobID(),
		JobType:          jobType,
		SourceIdentifier: sourceIdentifier,
		Status:           models.JobStatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts != nil {
		job.OriginalFileName = opts.OriginalFileName
		job.Priority = opts.Priority
		job.JobSpecificData = opts.JobSpecificData
	}

	var originalFileName, jobSpecificData sql.NullString
	if job.OriginalFileName != "" {
		originalFileName = sql.NullString{String: job.OriginalFileName, Valid: true}
	}
	if len(job.JobSpecificData) > 0 {
		jobSpecificData = sql.NullString{String: string(job.JobSpecificData), Valid: true}
	}

	query := `
		INSERT INTO ingestion_jobs (
			id, job_type, source_identifier, original_file_name, priority, status,
			attempts, job_specific_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`
	_, err := s.db.db.ExecContext(ctx, query,
		job.ID,
		string(job.JobType),
		job.SourceIdentifier,
		originalFileName,
		job.Priority,
		string(job.Status),
		jobSpecificData,
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", string(job.JobType)).
		Int("priority", job.Priority).
		Msg("Job created")

	return job, nil
}

// GetByID returns the job, or nil when no row matches
func (s *JobStorage) GetByID(ctx context.Context, id string) (*models.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE id = ?`
	row := s.db.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// GetNextJobs returns up to limit runnable jobs without claiming them.
// Runnable means queued, or retry_pending with a due next_attempt_at.
// Ordering is priority DESC, created_at ASC.
func (s *JobStorage) GetNextJobs(ctx context.Context, limit int, allowedTypes []models.JobType) ([]*models.IngestionJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	args := []interface{}{time.Now().Unix()}
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs
		WHERE (status = 'queued' OR (status = 'retry_pending' AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?))`

	if len(allowedTypes) > 0 {
		placeholders := make([]string, len(allowedTypes))
		for i, t := range allowedTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND job_type IN (` + strings.Join(placeholders, ", ") + `)`
	}

	query += ` ORDER BY priority DESC, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runnable jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Update applies a partial mutation to a job row
func (s *JobStorage) Update(ctx context.Context, id string, upd interfaces.JobUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().Unix()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *upd.Priority)
	}
	if upd.ErrorInfo != nil {
		sets = append(sets, "error_info = ?")
		args = append(args, truncateError(*upd.ErrorInfo))
	}
	if upd.FailedStage != nil {
		sets = append(sets, "failed_stage = ?")
		args = append(args, string(*upd.FailedStage))
	}
	if upd.NextAttemptAt != nil {
		sets = append(sets, "next_attempt_at = ?")
		args = append(args, upd.NextAttemptAt.Unix())
	}
	if upd.RelatedObjectID != nil {
		sets = append(sets, "related_object_id = ?")
		args = append(args, *upd.RelatedObjectID)
	}
	if len(upd.JobSpecificData) > 0 {
		sets = append(sets, "job_specific_data = ?")
		args = append(args, string(upd.JobSpecificData))
	}

	query := `UPDATE ingestion_jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)

	result, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkAsStarted atomically claims a runnable job. The conditional UPDATE is
// the serialization point: of N concurrent claimers exactly one sees a row
// change, so a job can never run twice for the same attempt.
func (s *JobStorage) MarkAsStarted(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, attempts = attempts + 1, last_attempt_at = ?, next_attempt_at = NULL, updated_at = ?
		WHERE id = ?
		AND (status = 'queued' OR (status = 'retry_pending' AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?))
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusProcessingSource),
		now.Unix(),
		now.Unix(),
		id,
		now.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkAsCompleted finalizes the job
func (s *JobStorage) MarkAsCompleted(ctx context.Context, id string, relatedObjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, completed_at = ?, updated_at = ?, error_info = NULL, failed_stage = NULL,
			related_object_id = COALESCE(NULLIF(?, ''), related_object_id)
		WHERE id = ?
	`
	_, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusCompleted),
		now.Unix(),
		now.Unix(),
		relatedObjectID,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// MarkAsFailed records a terminal failure
func (s *JobStorage) MarkAsFailed(ctx context.Context, id string, errorInfo string, failedStage models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, error_info = ?, failed_stage = ?, next_attempt_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusFailed),
		truncateError(errorInfo),
		string(failedStage),
		now.Unix(),
		now.Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// MarkAsRetryable schedules the next attempt after the given delay
func (s *JobStorage) MarkAsRetryable(ctx context.Context, id string, errorInfo string, failedStage models.JobStatus, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, error_info = ?, failed_stage = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusRetryPending),
		truncateError(errorInfo),
		string(failedStage),
		now.Add(delay).Unix(),
		now.Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job retryable: %w", err)
	}
	return nil
}

// Cancel moves a waiting job to cancelled. Jobs already claimed by a
// processor or in a terminal state are not touched.
func (s *JobStorage) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, next_attempt_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'retry_pending')
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusCancelled),
		now.Unix(),
		now.Unix(),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Requeue resets a failed or retry_pending job to queued for a fresh run.
// The attempt counter restarts so the full retry budget applies again.
func (s *JobStorage) Requeue(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, attempts = 0, error_info = NULL, failed_stage = NULL, next_attempt_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('failed', 'retry_pending')
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusQueued),
		now.Unix(),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// CompleteForObject finalizes jobs parked in vectorizing once the object
// they produced reached embedded
func (s *JobStorage) CompleteForObject(ctx context.Context, objectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, completed_at = ?, updated_at = ?, error_info = NULL, failed_stage = NULL
		WHERE related_object_id = ? AND status = 'vectorizing'
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusCompleted),
		now.Unix(),
		now.Unix(),
		objectID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to complete jobs for object: %w", err)
	}
	return result.RowsAffected()
}

// List returns jobs for the admin surface, newest first
func (s *JobStorage) List(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs`
	var conditions []string
	var args []interface{}

	if opts != nil && opts.Status != "" {
		statuses := splitAndTrim(opts.Status, ",")
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		conditions = append(conditions, `status IN (`+strings.Join(placeholders, ", ")+`)`)
	}
	if opts != nil && opts.JobType != "" {
		conditions = append(conditions, `job_type = ?`)
		args = append(args, opts.JobType)
	}

	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	limit := 100
	offset := 0
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Offset > 0 {
			offset = opts.Offset
		}
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// GetStats returns a status -> count map
func (s *JobStorage) GetStats(ctx context.Context) (models.JobStats, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingestion_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	stats := make(models.JobStats)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[models.JobStatus(status)] = count
	}
	return stats, rows.Err()
}

// CleanupOldJobs deletes terminal jobs that finished more than days ago
func (s *JobStorage) CleanupOldJobs(ctx context.Context, days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if days <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", days)
	}

	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	query := `
		DELETE FROM ingestion_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at IS NOT NULL AND completed_at < ?
	`
	result, err := s.db.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old jobs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Int("retention_days", days).Msg("Old jobs cleaned up")
	}
	return deleted, nil
}

// ResetStrandedJobs re-queues jobs a previous process left mid-flight.
// Called once at startup before the scheduler starts polling. Jobs parked
// in vectorizing are not stranded: the object they produced is already
// persisted and the embedding worker still finalizes them after a restart.
func (s *JobStorage) ResetStrandedJobs(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = ?, next_attempt_at = NULL, updated_at = ?
		WHERE status IN ('processing_source', 'parsing_content', 'ai_processing', 'persisting_data')
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.JobStatusQueued),
		now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stranded jobs: %w", err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		s.logger.Warn().Int64("reset", reset).Msg("Stranded jobs re-queued after restart")
	}
	return reset, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.IngestionJob, error) {
	var job models.IngestionJob
	var jobType, status string
	var originalFileName, errorInfo, failedStage, jobSpecificData, relatedObjectID sql.NullString
	var lastAttemptAt, nextAttemptAt, completedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&job.ID,
		&jobType,
		&job.SourceIdentifier,
		&originalFileName,
		&job.Priority,
		&status,
		&job.Attempts,
		&lastAttemptAt,
		&nextAttemptAt,
		&completedAt,
		&errorInfo,
		&failedStage,
		&jobSpecificData,
		&relatedObjectID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.JobType = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	job.OriginalFileName = originalFileName.String
	job.ErrorInfo = errorInfo.String
	job.FailedStage = models.JobStatus(failedStage.String)
	job.RelatedObjectID = relatedObjectID.String
	if jobSpecificData.Valid {
		job.JobSpecificData = []byte(jobSpecificData.String)
	}
	if lastAttemptAt.Valid {
		t := unixToTime(lastAttemptAt.Int64)
		job.LastAttemptAt = &t
	}
	if nextAttemptAt.Valid {
		t := unixToTime(nextAttemptAt.Int64)
		job.NextAttemptAt = &t
	}
	if completedAt.Valid {
		t := unixToTime(completedAt.Int64)
		job.CompletedAt = &t
	}
	job.CreatedAt = unixToTime(createdAt)
	job.UpdatedAt = unixToTime(updatedAt)

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*models.IngestionJob, error) {
	var jobs []*models.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
