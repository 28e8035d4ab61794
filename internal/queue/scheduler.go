package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Active jobs older than this are logged on each poll. They are never
// force-cancelled; the log is an operator signal.
const staleJobThreshold = 15 * time.Minute

// Config holds scheduler tuning parameters
type Config struct {
	Concurrency  int           // Max jobs processed at once
	PollInterval time.Duration // How often the poll loop scans for runnable jobs
	MaxRetries   int           // Retries after the first attempt before permanent failure
	RetryDelay   time.Duration // Base delay before the first retry, doubled per attempt
}

// Scheduler runs the persistent job queue: it polls for runnable jobs,
// claims them, and dispatches each to the processor registered for its
// type, within a bounded concurrency budget.
type Scheduler struct {
	config     Config
	jobs       interfaces.JobRepository
	events     interfaces.EventService
	processors map[models.JobType]interfaces.Processor
	logger     arbor.ILogger

	mu         sync.Mutex
	running    bool
	activeJobs map[string]time.Time // job ID -> claim time

	pollCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a new queue scheduler
func NewScheduler(config Config, jobs interfaces.JobRepository, events interfaces.EventService, logger arbor.ILogger) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &Scheduler{
		config:     config,
		jobs:       jobs,
		events:     events,
		processors: make(map[models.JobType]interfaces.Processor),
		logger:     logger,
		activeJobs: make(map[string]time.Time),
		pollCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// RegisterProcessor binds a processor to a job type. Must be called before Start.
func (s *Scheduler) RegisterProcessor(jobType models.JobType, p interfaces.Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processors[jobType] = p
	s.logger.Debug().Str("job_type", string(jobType)).Msg("Processor registered")
}

// Enqueue persists a new job and wakes the poll loop
func (s *Scheduler) Enqueue(ctx context.Context, jobType models.JobType, sourceIdentifier string, opts *models.JobOptions) (*models.IngestionJob, error) {
	s.mu.Lock()
	_, known := s.processors[jobType]
	s.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("no processor registered for job type %q", jobType)
	}

	job, err := s.jobs.Create(ctx, jobType, sourceIdentifier, opts)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, interfaces.EventJobCreated, map[string]interface{}{
		"job_id":   job.ID,
		"job_type": string(job.JobType),
		"priority": job.Priority,
	})

	// Wake the poll loop so a waiting slot picks the job up immediately
	select {
	case s.pollCh <- struct{}{}:
	default:
	}

	return job, nil
}

// Requeue resets a failed or retry_pending job to queued and wakes the
// poll loop so a free slot picks it up without waiting for the next tick
func (s *Scheduler) Requeue(ctx context.Context, id string) (bool, error) {
	requeued, err := s.jobs.Requeue(ctx, id)
	if err != nil || !requeued {
		return requeued, err
	}

	select {
	case s.pollCh <- struct{}{}:
	default:
	}
	return true, nil
}

// Start launches the poll loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().
		Int("concurrency", s.config.Concurrency).
		Dur("poll_interval", s.config.PollInterval).
		Int("max_retries", s.config.MaxRetries).
		Msg("Queue scheduler started")

	s.wg.Add(1)
	go s.loop(runCtx)

	return nil
}

// Stop halts polling and waits for in-flight jobs to finish, or until ctx
// expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info().Msg("Queue scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler stop timed out: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Scan once at startup so restarts drain the backlog without waiting
	// for the first tick
	s.poll(ctx)

	for {
		select {
		case <-s.stopCh:
			// In-flight jobs keep their context; Stop cancels it only on
			// drain timeout
			return
		case <-ticker.C:
			s.poll(ctx)
		case <-s.pollCh:
			s.poll(ctx)
		}
	}
}

// poll dispatches runnable jobs into free concurrency slots
func (s *Scheduler) poll(ctx context.Context) {
	s.mu.Lock()
	capacity := s.config.Concurrency - len(s.activeJobs)
	types := make([]models.JobType, 0, len(s.processors))
	for t := range s.processors {
		types = append(types, t)
	}
	for id, claimedAt := range s.activeJobs {
		if age := time.Since(claimedAt); age > staleJobThreshold {
			s.logger.Warn().
				Str("job_id", id).
				Dur("age", age).
				Msg("Job has been running unusually long")
		}
	}
	s.mu.Unlock()

	if capacity <= 0 || len(types) == 0 {
		return
	}

	candidates, err := s.jobs.GetNextJobs(ctx, capacity, types)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to poll for runnable jobs")
		return
	}

	for _, job := range candidates {
		s.mu.Lock()
		if _, active := s.activeJobs[job.ID]; active || len(s.activeJobs) >= s.config.Concurrency {
			s.mu.Unlock()
			continue
		}
		s.activeJobs[job.ID] = time.Now()
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// runJob claims and executes one job, then applies the retry policy
func (s *Scheduler) runJob(ctx context.Context, job *models.IngestionJob) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.activeJobs, job.ID)
		s.mu.Unlock()
	}()

	// The claim is the serialization point: only the winner proceeds
	claimed, err := s.jobs.MarkAsStarted(ctx, job.ID)
	if err != nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to claim job")
		return
	}
	if !claimed {
		return
	}

	current, err := s.jobs.GetByID(ctx, job.ID)
	if err != nil || current == nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Claimed job vanished")
		return
	}

	s.publish(ctx, interfaces.EventJobStarted, map[string]interface{}{
		"job_id":   current.ID,
		"job_type": string(current.JobType),
		"attempts": current.Attempts,
	})

	s.mu.Lock()
	processor := s.processors[current.JobType]
	s.mu.Unlock()
	if processor == nil {
		s.failJob(ctx, current, fmt.Errorf("no processor registered for job type %q", current.JobType), models.JobStatusProcessingSource)
		return
	}

	start := time.Now()
	procErr := s.execute(ctx, processor, current)

	if procErr != nil {
		s.handleFailure(ctx, current, procErr)
		return
	}

	// Reload to see what the processor left behind
	finished, err := s.jobs.GetByID(ctx, current.ID)
	if err != nil || finished == nil {
		s.logger.Warn().Str("job_id", current.ID).Err(err).Msg("Failed to reload job after processing")
		return
	}

	switch {
	case finished.Status == models.JobStatusVectorizing:
		// Handed off: the embedding worker finalizes the job once the
		// produced object reaches embedded
		s.logger.Info().
			Str("job_id", finished.ID).
			Str("object_id", finished.RelatedObjectID).
			Dur("duration", time.Since(start)).
			Msg("Job handed off to embedding")
	case finished.Status.IsTerminal():
		s.publish(ctx, interfaces.EventJobCompleted, map[string]interface{}{
			"job_id":   finished.ID,
			"job_type": string(finished.JobType),
		})
	default:
		if err := s.jobs.MarkAsCompleted(ctx, finished.ID, finished.RelatedObjectID); err != nil {
			s.logger.Warn().Str("job_id", finished.ID).Err(err).Msg("Failed to complete job")
			return
		}
		s.publish(ctx, interfaces.EventJobCompleted, map[string]interface{}{
			"job_id":   finished.ID,
			"job_type": string(finished.JobType),
		})
		s.logger.Info().
			Str("job_id", finished.ID).
			Dur("duration", time.Since(start)).
			Msg("Job completed")
	}
}

// execute runs the processor with panic isolation
func (s *Scheduler) execute(ctx context.Context, processor interfaces.Processor, job *models.IngestionJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", job.ID).
				Str("stack", string(debug.Stack())).
				Msg("Processor panicked")
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()

	progress := func(pctx context.Context, status models.JobStatus, message string) {
		upd := interfaces.JobUpdate{Status: &status}
		if _, uerr := s.jobs.Update(pctx, job.ID, upd); uerr != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(uerr).Msg("Failed to record job progress")
		}
		s.publish(pctx, interfaces.EventObjectProgress, map[string]interface{}{
			"job_id":  job.ID,
			"status":  string(status),
			"message": message,
		})
	}

	return processor.Process(ctx, job, progress)
}

// handleFailure applies the retry policy after a processor error
func (s *Scheduler) handleFailure(ctx context.Context, job *models.IngestionJob, procErr error) {
	failedStage := s.inferStage(ctx, job.ID)

	if IsFatal(procErr) {
		s.failJob(ctx, job, procErr, failedStage)
		return
	}

	// Attempts counts total tries including this one
	current, err := s.jobs.GetByID(ctx, job.ID)
	if err != nil || current == nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to reload job after failure")
		return
	}

	if current.Attempts <= s.config.MaxRetries {
		// Exponential backoff: base delay doubled per completed attempt
		delay := s.config.RetryDelay << (current.Attempts - 1)
		if err := s.jobs.MarkAsRetryable(ctx, job.ID, procErr.Error(), failedStage, delay); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to schedule retry")
			return
		}
		s.publish(ctx, interfaces.EventJobRetry, map[string]interface{}{
			"job_id":   job.ID,
			"attempts": current.Attempts,
			"delay":    delay.String(),
			"error":    procErr.Error(),
		})
		s.logger.Warn().
			Str("job_id", job.ID).
			Int("attempts", current.Attempts).
			Dur("delay", delay).
			Err(procErr).
			Msg("Job scheduled for retry")
		return
	}

	s.failJob(ctx, job, procErr, failedStage)
}

func (s *Scheduler) failJob(ctx context.Context, job *models.IngestionJob, procErr error, failedStage models.JobStatus) {
	if err := s.jobs.MarkAsFailed(ctx, job.ID, procErr.Error(), failedStage); err != nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to mark job failed")
		return
	}
	s.publish(ctx, interfaces.EventJobFailed, map[string]interface{}{
		"job_id":       job.ID,
		"job_type":     string(job.JobType),
		"error":        procErr.Error(),
		"failed_stage": string(failedStage),
	})
	s.logger.Error().
		Str("job_id", job.ID).
		Str("failed_stage", string(failedStage)).
		Err(procErr).
		Msg("Job failed permanently")
}

// inferStage reads the progress substate the job was in when it failed.
// Progress reporting keeps the status current, so the stored status at
// failure time names the failing stage.
func (s *Scheduler) inferStage(ctx context.Context, jobID string) models.JobStatus {
	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil || current == nil {
		return models.JobStatusProcessingSource
	}
	if current.Status.IsActive() {
		return current.Status
	}
	return models.JobStatusProcessingSource
}

func (s *Scheduler) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSync(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Str("event_type", string(eventType)).Err(err).Msg("Event delivery failed")
	}
}
