// -----------------------------------------------------------------------
// Application - Wires configuration, storage, services, queue and
// handlers together and owns their lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/queue"
	"github.com/ternarybob/colligo/internal/services/embeddings"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/services/fetch"
	"github.com/ternarybob/colligo/internal/services/llm"
	"github.com/ternarybob/colligo/internal/services/pdf"
	"github.com/ternarybob/colligo/internal/services/vectorstore"
	"github.com/ternarybob/colligo/internal/services/workers"
	"github.com/ternarybob/colligo/internal/storage/sqlite"
)

// App holds every wired service. Construction order follows dependency
// order; Close tears down in reverse.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	LLMService     interfaces.LLMService
	VectorStore    interfaces.VectorStore

	Scheduler       *queue.Scheduler
	EmbeddingWorker *embeddings.Worker
	cleanupCron     *cron.Cron

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	JobHandler    *handlers.JobHandler
	ObjectHandler *handlers.ObjectHandler
	SearchHandler *handlers.SearchHandler
	WSHandler     *handlers.WebSocketHandler
}

// New builds the full application from config. Nothing is started yet;
// call Start after construction.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storage

	a.EventService = events.NewEventService(logger)

	llmService, err := llm.NewLLMService(config, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	a.LLMService = llmService

	vectors, err := vectorstore.NewBadgerStore(&config.Storage.Vectors, llmService, logger)
	if err != nil {
		llmService.Close()
		storage.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.VectorStore = vectors

	a.Scheduler = queue.NewScheduler(queue.Config{
		Concurrency:  config.Queue.Concurrency,
		PollInterval: config.GetPollInterval(),
		MaxRetries:   config.Queue.MaxRetries,
		RetryDelay:   config.GetRetryDelay(),
	}, storage.Jobs(), a.EventService, logger)

	fetcher := fetch.NewFetcher(&config.Fetch, logger)
	extractor := pdf.NewExtractor(logger)

	a.Scheduler.RegisterProcessor(models.JobTypeURL,
		workers.NewURLProcessor(fetcher, llmService, storage, logger))
	a.Scheduler.RegisterProcessor(models.JobTypePDF,
		workers.NewPDFProcessor(extractor, llmService, storage, &config.Storage.Files, logger))
	a.Scheduler.RegisterProcessor(models.JobTypeBookmarkBatch,
		workers.NewBookmarkProcessor(storage, logger))

	a.EmbeddingWorker = embeddings.NewWorker(
		storage, llmService, vectors,
		config.GetEmbeddingInterval(), config.Gemini.EmbedModel, logger)

	if config.Cleanup.Enabled {
		a.cleanupCron = cron.New(cron.WithSeconds())
		_, err := a.cleanupCron.AddFunc(config.Cleanup.Schedule, a.runCleanup)
		if err != nil {
			a.closeServices()
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", config.Cleanup.Schedule, err)
		}
	}

	a.APIHandler = handlers.NewAPIHandler(storage)
	a.JobHandler = handlers.NewJobHandler(a.Scheduler, storage.Jobs())
	a.ObjectHandler = handlers.NewObjectHandler(storage, vectors, config.Gemini.EmbedModel)
	a.SearchHandler = handlers.NewSearchHandler(vectors)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, &config.WebSocket)

	return a, nil
}

// Start recovers stranded work from a previous process, then launches the
// scheduler, the embedding worker and the cleanup schedule.
func (a *App) Start(ctx context.Context) error {
	reset, err := a.StorageManager.Jobs().ResetStrandedJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset stranded jobs: %w", err)
	}
	if reset > 0 {
		a.Logger.Info().Int64("count", reset).Msg("Re-queued jobs stranded by previous process")
	}

	resetObjs, err := a.StorageManager.Objects().ResetStrandedEmbedding(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset stranded objects: %w", err)
	}
	if resetObjs > 0 {
		a.Logger.Info().Int64("count", resetObjs).Msg("Reset objects stranded in embedding")
	}

	if a.Config.WebSocket.Enabled {
		a.WSHandler.Start()
	}

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.EmbeddingWorker.Start(ctx)

	if a.cleanupCron != nil {
		a.cleanupCron.Start()
		a.Logger.Info().
			Str("schedule", a.Config.Cleanup.Schedule).
			Int("retention_days", a.Config.Cleanup.RetentionDays).
			Msg("Job cleanup schedule started")
	}

	a.Logger.Info().Str("version", common.GetFullVersion()).Msg("Application started")
	return nil
}

// runCleanup deletes terminal jobs past the retention window
func (a *App) runCleanup() {
	deleted, err := a.StorageManager.Jobs().CleanupOldJobs(context.Background(), a.Config.Cleanup.RetentionDays)
	if err != nil {
		a.Logger.Error().Err(err).Msg("Job cleanup failed")
		return
	}
	if deleted > 0 {
		a.Logger.Info().Int64("deleted", deleted).Msg("Old jobs cleaned up")
	}
}

// Close stops background work and releases resources in reverse
// construction order
func (a *App) Close(ctx context.Context) error {
	if a.cleanupCron != nil {
		cronCtx := a.cleanupCron.Stop()
		<-cronCtx.Done()
	}

	a.EmbeddingWorker.Stop()

	if err := a.Scheduler.Stop(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Scheduler did not stop cleanly")
	}

	a.WSHandler.Stop()
	a.closeServices()

	a.Logger.Info().Msg("Application stopped")
	return nil
}

func (a *App) closeServices() {
	if a.VectorStore != nil {
		if err := a.VectorStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close vector store")
		}
	}
	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
}
