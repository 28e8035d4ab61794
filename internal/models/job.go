package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of an ingestion job
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusRetryPending JobStatus = "retry_pending"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"

	// Progress substates. A processor advances through these while it is
	// actively working; the scheduler treats all of them as "active".
	JobStatusProcessingSource JobStatus = "processing_source"
	JobStatusParsingContent   JobStatus = "parsing_content"
	JobStatusAIProcessing     JobStatus = "ai_processing"
	JobStatusPersistingData   JobStatus = "persisting_data"
	JobStatusVectorizing      JobStatus = "vectorizing"
)

// IsTerminal returns true if the status is a final state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive returns true if a processor currently owns the job
func (s JobStatus) IsActive() bool {
	switch s {
	case JobStatusProcessingSource, JobStatusParsingContent, JobStatusAIProcessing,
		JobStatusPersistingData, JobStatusVectorizing:
		return true
	}
	return false
}

// JobType identifies which processor handles a job
type JobType string

const (
	JobTypeURL           JobType = "url"
	JobTypePDF           JobType = "pdf"
	JobTypeBookmarkBatch JobType = "bookmark-batch"
)

// IngestionJob represents one unit of ingestion work. Jobs are durable:
// they survive process restarts and are removed only by retention cleanup.
type IngestionJob struct {
	// Identity
	ID      string  `json:"id"`
	JobType JobType `json:"job_type"`

	// Source
	SourceIdentifier string `json:"source_identifier"` // URL or local file path
	OriginalFileName string `json:"original_file_name,omitempty"`

	// Scheduling
	Priority int       `json:"priority"` // Higher processed first, ties broken by created_at ASC
	Status   JobStatus `json:"status"`
	Attempts int       `json:"attempts"` // Incremented on each claim

	// Timestamps
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Failure detail
	ErrorInfo   string    `json:"error_info,omitempty"`  // Last error, truncated to 1000 chars
	FailedStage JobStatus `json:"failed_stage,omitempty"` // Progress substate current at last failure

	// Processor-private context, preserved as opaque JSON
	JobSpecificData json.RawMessage `json:"job_specific_data,omitempty"`

	// Back-reference to the object the job produced, if any
	RelatedObjectID string `json:"related_object_id,omitempty"`
}

// JobOptions carries the optional fields of job creation
type JobOptions struct {
	OriginalFileName string          `json:"original_file_name,omitempty"`
	Priority         int             `json:"priority,omitempty"`
	JobSpecificData  json.RawMessage `json:"job_specific_data,omitempty"`
}

// JobStats maps job status to row count
type JobStats map[JobStatus]int

// Active returns the number of jobs in progress substates
func (s JobStats) Active() int {
	total := 0
	for status, count := range s {
		if status.IsActive() {
			total += count
		}
	}
	return total
}
