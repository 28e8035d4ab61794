package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/storage/sqlite"
)

// stubProcessor runs a function per job
type stubProcessor struct {
	fn func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error
}

func (p *stubProcessor) Process(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
	return p.fn(ctx, job, progress)
}

func setupScheduler(t *testing.T, config Config) (*Scheduler, interfaces.StorageManager, interfaces.EventService) {
	logger := arbor.NewLogger()
	storage, err := sqlite.NewManager(logger, &common.SQLiteConfig{
		Path:          t.TempDir() + "/queue.db",
		CacheSizeMB:   10,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	eventService := events.NewEventService(logger)
	t.Cleanup(func() { eventService.Close() })

	return NewScheduler(config, storage.Jobs(), eventService, logger), storage, eventService
}

func waitForStatus(t *testing.T, storage interfaces.StorageManager, jobID string, want models.JobStatus) *models.IngestionJob {
	t.Helper()
	var got *models.IngestionJob
	require.Eventually(t, func() bool {
		job, err := storage.Jobs().GetByID(context.Background(), jobID)
		if err != nil || job == nil {
			return false
		}
		got = job
		return job.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job never reached status %s", want)
	return got
}

func TestScheduler_HappyPath(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   2,
		RetryDelay:   10 * time.Millisecond,
	})

	var processed atomic.Int32
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			progress(ctx, models.JobStatusParsingContent, "parsing")
			processed.Add(1)
			return nil
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	job, err := scheduler.Enqueue(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)

	done := waitForStatus(t, storage, job.ID, models.JobStatusCompleted)
	assert.Equal(t, 1, done.Attempts)
	assert.Empty(t, done.ErrorInfo)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, int32(1), processed.Load())
}

func TestScheduler_RetryThenSuccess(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   2,
		RetryDelay:   10 * time.Millisecond,
	})

	var tries atomic.Int32
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			if tries.Add(1) == 1 {
				return fmt.Errorf("transient network error")
			}
			return nil
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	job, err := scheduler.Enqueue(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)

	done := waitForStatus(t, storage, job.ID, models.JobStatusCompleted)
	assert.Equal(t, 2, done.Attempts)
	assert.Equal(t, int32(2), tries.Load())
}

func TestScheduler_PermanentFailure(t *testing.T) {
	scheduler, storage, eventService := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   2,
		RetryDelay:   5 * time.Millisecond,
	})

	var tries atomic.Int32
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			tries.Add(1)
			progress(ctx, models.JobStatusParsingContent, "parsing")
			return fmt.Errorf("parse exploded")
		},
	})

	var failedEvents atomic.Int32
	eventService.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, e interfaces.Event) error {
		failedEvents.Add(1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	job, err := scheduler.Enqueue(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)

	done := waitForStatus(t, storage, job.ID, models.JobStatusFailed)
	// maxRetries=2 means three total attempts
	assert.Equal(t, 3, done.Attempts)
	assert.Equal(t, int32(3), tries.Load())
	assert.Contains(t, done.ErrorInfo, "parse exploded")
	assert.Equal(t, models.JobStatusParsingContent, done.FailedStage)
	assert.Equal(t, int32(1), failedEvents.Load())
}

func TestScheduler_ZeroRetries(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   0,
		RetryDelay:   5 * time.Millisecond,
	})

	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			return fmt.Errorf("boom")
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	job, err := scheduler.Enqueue(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)

	done := waitForStatus(t, storage, job.ID, models.JobStatusFailed)
	assert.Equal(t, 1, done.Attempts)
}

func TestScheduler_FatalErrorSkipsRetries(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   3,
		RetryDelay:   5 * time.Millisecond,
	})

	var tries atomic.Int32
	scheduler.RegisterProcessor(models.JobTypePDF, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			tries.Add(1)
			return Fatal(fmt.Errorf("file exceeds maximum size"))
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	job, err := scheduler.Enqueue(ctx, models.JobTypePDF, "/tmp/huge.pdf", nil)
	require.NoError(t, err)

	done := waitForStatus(t, storage, job.ID, models.JobStatusFailed)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, int32(1), tries.Load())
	assert.Contains(t, done.ErrorInfo, "exceeds maximum size")
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		MaxRetries:   0,
		RetryDelay:   5 * time.Millisecond,
	})

	var current, peak atomic.Int32
	var mu sync.Mutex
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			n := current.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			current.Add(-1)
			return nil
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	var jobIDs []string
	for i := 0; i < 5; i++ {
		job, err := scheduler.Enqueue(ctx, models.JobTypeURL, fmt.Sprintf("https://example.com/%d", i), nil)
		require.NoError(t, err)
		jobIDs = append(jobIDs, job.ID)
	}

	for _, id := range jobIDs {
		waitForStatus(t, storage, id, models.JobStatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestScheduler_CancelledJobNeverRuns(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
		MaxRetries:   0,
		RetryDelay:   5 * time.Millisecond,
	})

	var tries atomic.Int32
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			tries.Add(1)
			return nil
		},
	})

	ctx := context.Background()

	// Create the job before the scheduler starts, then cancel it
	job, err := storage.Jobs().Create(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)
	cancelled, err := storage.Jobs().Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), tries.Load())

	fetched, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, fetched.Status)
}

func TestScheduler_EnqueueUnregisteredType(t *testing.T) {
	scheduler, _, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
	})

	_, err := scheduler.Enqueue(context.Background(), models.JobTypePDF, "/tmp/a.pdf", nil)
	assert.Error(t, err)
}

func TestScheduler_VectorizingHandoff(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   0,
		RetryDelay:   5 * time.Millisecond,
	})

	jobs := storage.Jobs()
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			// Multi-stage processors park the job for the embedding worker
			vectorizing := models.JobStatusVectorizing
			objectID := "obj_handoff"
			_, err := jobs.Update(ctx, job.ID, interfaces.JobUpdate{
				Status:          &vectorizing,
				RelatedObjectID: &objectID,
			})
			return err
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	job, err := scheduler.Enqueue(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)

	parked := waitForStatus(t, storage, job.ID, models.JobStatusVectorizing)
	assert.Equal(t, "obj_handoff", parked.RelatedObjectID)

	// The scheduler must not touch the parked job on subsequent polls
	time.Sleep(50 * time.Millisecond)
	fetched, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusVectorizing, fetched.Status)
	assert.Equal(t, 1, fetched.Attempts)

	// Completing the related object finalizes the job
	n, err := jobs.CompleteForObject(ctx, "obj_handoff")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	waitForStatus(t, storage, job.ID, models.JobStatusCompleted)
}

func TestScheduler_RequeueWakesPollLoop(t *testing.T) {
	// Poll interval far beyond the test horizon: only the explicit wakes
	// from Enqueue and Requeue can dispatch the job
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: time.Hour,
		MaxRetries:   0,
		RetryDelay:   5 * time.Millisecond,
	})

	var tries atomic.Int32
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			if tries.Add(1) == 1 {
				return fmt.Errorf("flaky upstream")
			}
			return nil
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop(ctx)

	job, err := scheduler.Enqueue(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)
	waitForStatus(t, storage, job.ID, models.JobStatusFailed)

	requeued, err := scheduler.Requeue(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, requeued)

	done := waitForStatus(t, storage, job.ID, models.JobStatusCompleted)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, int32(2), tries.Load())

	// Completed jobs are not retryable
	requeued, err = scheduler.Requeue(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, requeued)
}

func TestScheduler_StopDrains(t *testing.T) {
	scheduler, storage, _ := setupScheduler(t, Config{
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		MaxRetries:   0,
		RetryDelay:   5 * time.Millisecond,
	})

	started := make(chan struct{})
	scheduler.RegisterProcessor(models.JobTypeURL, &stubProcessor{
		fn: func(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))

	job, err := scheduler.Enqueue(ctx, models.JobTypeURL, "https://example.com", nil)
	require.NoError(t, err)

	<-started
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(stopCtx))

	// The in-flight job finished before Stop returned
	fetched, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, fetched.Status)
}
