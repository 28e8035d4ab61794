package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// ProgressReporter lets a processor surface per-stage progress while a job
// runs. Implementations update the job's status substate and emit an
// object:progress event; errors from reporting are logged, not returned.
type ProgressReporter func(ctx context.Context, status models.JobStatus, message string)

// Processor executes one job type end to end. A nil return finalizes or
// hands off the job depending on the processor; an error triggers the
// scheduler's retry policy.
type Processor interface {
	Process(ctx context.Context, job *models.IngestionJob, progress ProgressReporter) error
}

// QueueService runs the persistent job queue
type QueueService interface {
	// RegisterProcessor binds a processor to a job type. Must be called
	// before Start.
	RegisterProcessor(jobType models.JobType, p Processor)

	// Enqueue persists a new job and wakes the poll loop
	Enqueue(ctx context.Context, jobType models.JobType, sourceIdentifier string, opts *models.JobOptions) (*models.IngestionJob, error)

	// Requeue resets a failed or retry_pending job to queued and wakes the
	// poll loop. Returns false when the job is not in a retryable state.
	Requeue(ctx context.Context, id string) (bool, error)

	// Start launches the poll loop
	Start(ctx context.Context) error

	// Stop halts polling and waits for in-flight jobs to finish
	Stop(ctx context.Context) error
}
