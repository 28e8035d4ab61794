// -----------------------------------------------------------------------
// Embedding Worker - Single background loop that advances parsed objects
// through chunking, vectorization and embedding-link persistence
// -----------------------------------------------------------------------

package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const maxErrorLen = 1000

// Worker drains parsed objects one at a time. A single loop keeps the
// external embedding API usage serial and sidesteps write contention on
// the chunk table.
type Worker struct {
	storage  interfaces.StorageManager
	llm      interfaces.LLMService
	vectors  interfaces.VectorStore
	interval time.Duration
	model    string
	logger   arbor.ILogger

	mu        sync.Mutex
	isRunning bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWorker creates the embedding worker. model names the embedding model
// recorded on every chunk link.
func NewWorker(storage interfaces.StorageManager, llm interfaces.LLMService, vectors interfaces.VectorStore, interval time.Duration, model string, logger arbor.ILogger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		storage:  storage,
		llm:      llm,
		vectors:  vectors,
		interval: interval,
		model:    model,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background loop. The first pass runs immediately so
// a backlog left by a previous process drains without waiting a full tick.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				w.RunOnce(ctx)
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.logger.Info().
		Dur("interval", w.interval).
		Str("model", w.model).
		Msg("Embedding worker started")
}

// Stop halts the loop and waits for the in-flight pass to finish
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// RunOnce processes at most one parsed object. Safe to call concurrently
// with the loop; overlapping passes are skipped.
func (w *Worker) RunOnce(ctx context.Context) {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		w.logger.Debug().Msg("Embedding pass already in progress, skipping")
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.isRunning = false
		w.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in embedding pass")
		}
	}()

	objects, err := w.storage.Objects().NextForEmbedding(ctx, 1)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to query objects for embedding")
		return
	}
	if len(objects) == 0 {
		return
	}

	w.processObject(ctx, objects[0])
}

// processObject runs the full embedding pipeline for one object:
// claim, chunk, replace, vectorize, link, finalize.
func (w *Worker) processObject(ctx context.Context, obj *models.ContentObject) {
	// CAS claim keeps two passes (or two processes) off the same object
	claimed, err := w.storage.Objects().TransitionStatus(ctx, obj.ID, models.ObjectStatusParsed, models.ObjectStatusEmbedding)
	if err != nil {
		w.logger.Error().Str("object_id", obj.ID).Err(err).Msg("Embedding claim failed")
		return
	}
	if !claimed {
		w.logger.Debug().Str("object_id", obj.ID).Msg("Object claimed elsewhere, skipping")
		return
	}

	// Once claimed the object must leave embedding even if the pipeline
	// panics; otherwise it is stuck until the next process restart
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("object_id", obj.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED while embedding object")
			w.markFailed(ctx, obj.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := w.embedObject(ctx, obj); err != nil {
		w.logger.Error().
			Str("object_id", obj.ID).
			Err(err).
			Msg("Embedding failed")
		w.markFailed(ctx, obj.ID, err)
		return
	}

	// The object is embedded; finalize any job parked in vectorizing for it
	completed, err := w.storage.Jobs().CompleteForObject(ctx, obj.ID)
	if err != nil {
		w.logger.Warn().Str("object_id", obj.ID).Err(err).Msg("Failed to finalize parked jobs")
		return
	}
	w.logger.Info().
		Str("object_id", obj.ID).
		Int64("jobs_completed", completed).
		Msg("Object embedded")
}

func (w *Worker) embedObject(ctx context.Context, obj *models.ContentObject) error {
	descriptors, err := w.llm.ChunkText(ctx, obj.CleanedText, obj.ID)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}

	chunks, err := models.MaterializeChunks(obj.ID, descriptors)
	if err != nil {
		return fmt.Errorf("invalid chunk set: %w", err)
	}

	if err := w.storage.Chunks().ReplaceForObject(ctx, obj.ID, chunks); err != nil {
		return fmt.Errorf("chunk replacement failed: %w", err)
	}

	// Read back what was stored; the stored set is authoritative for
	// ordering and IDs
	stored, err := w.storage.Chunks().GetByObjectID(ctx, obj.ID)
	if err != nil {
		return fmt.Errorf("chunk readback failed: %w", err)
	}
	if len(stored) == 0 {
		return fmt.Errorf("no chunks stored for object")
	}
	if len(stored) != len(chunks) {
		w.logger.Warn().
			Str("object_id", obj.ID).
			Int("materialized", len(chunks)).
			Int("stored", len(stored)).
			Msg("Chunk count changed between write and readback")
	}

	docs := make([]*models.VectorDocument, 0, len(stored))
	ids := make([]string, 0, len(stored))
	for _, chunk := range stored {
		docs = append(docs, &models.VectorDocument{
			ID:      common.NewVectorID(),
			Content: chunk.Content,
			Metadata: map[string]interface{}{
				"chunk_id":     chunk.ID,
				"object_id":    obj.ID,
				"object_type":  string(obj.ObjectType),
				"chunk_idx":    chunk.ChunkIdx,
				"title":        obj.Title,
				"source_uri":   obj.SourceURI,
				"tags":         chunk.TagsJSON,
				"propositions": chunk.PropositionsJSON,
			},
		})
		ids = append(ids, docs[len(docs)-1].ID)
	}

	vectorIDs, err := w.vectors.AddDocuments(ctx, docs, ids)
	if err != nil {
		return fmt.Errorf("vector store write failed: %w", err)
	}
	if len(vectorIDs) != len(stored) {
		// A partial write cannot be linked reliably; fail the object so
		// the next pass after operator intervention rebuilds everything
		return fmt.Errorf("vector store returned %d ids for %d chunks", len(vectorIDs), len(stored))
	}

	for i, chunk := range stored {
		if _, err := w.storage.Embeddings().Insert(ctx, &models.EmbeddingLink{
			ChunkID:  chunk.ID,
			Model:    w.model,
			VectorID: vectorIDs[i],
		}); err != nil {
			return fmt.Errorf("embedding link insert failed for chunk %d: %w", chunk.ChunkIdx, err)
		}
	}

	if err := w.storage.Objects().UpdateStatus(ctx, obj.ID, models.ObjectStatusEmbedded, nil, ""); err != nil {
		return fmt.Errorf("failed to mark object embedded: %w", err)
	}
	return nil
}

func (w *Worker) markFailed(ctx context.Context, objectID string, cause error) {
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	if err := w.storage.Objects().UpdateStatus(ctx, objectID, models.ObjectStatusEmbeddingFailed, nil, msg); err != nil {
		w.logger.Error().Str("object_id", objectID).Err(err).Msg("Failed to record embedding failure")
	}
}
