// -----------------------------------------------------------------------
// URL Processor - Ingests a single web page: fetch, extract, AI metadata,
// persist as a content object ready for embedding
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/fetch"
)

// URLProcessor handles jobs of type "url". It produces one webpage object
// per job and parks the job in vectorizing for the embedding worker to
// finalize.
type URLProcessor struct {
	fetcher *fetch.Fetcher
	llm     interfaces.LLMService
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

var _ interfaces.Processor = (*URLProcessor)(nil)

// NewURLProcessor creates a new URL ingestion processor
func NewURLProcessor(fetcher *fetch.Fetcher, llm interfaces.LLMService, storage interfaces.StorageManager, logger arbor.ILogger) *URLProcessor {
	return &URLProcessor{
		fetcher: fetcher,
		llm:     llm,
		storage: storage,
		logger:  logger,
	}
}

// Process fetches the page, runs AI metadata extraction and persists the
// object with its seed chunk. On success the job is left in vectorizing
// with related_object_id set; the embedding worker completes it.
func (p *URLProcessor) Process(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
	url := job.SourceIdentifier

	progress(ctx, models.JobStatusProcessingSource, fmt.Sprintf("Fetching %s", url))

	page, err := p.fetcher.FetchPage(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	progress(ctx, models.JobStatusParsingContent, "Extracting page content")

	if page.CleanedText == "" {
		return fmt.Errorf("no text content extracted from %s", url)
	}

	progress(ctx, models.JobStatusAIProcessing, "Generating document metadata")

	meta, err := p.llm.GenerateDocumentMetadata(ctx, page.Title, page.CleanedText)
	if err != nil {
		return fmt.Errorf("metadata generation failed for %s: %w", url, err)
	}

	progress(ctx, models.JobStatusPersistingData, "Saving content object")

	obj, err := buildObject(models.ObjectTypeWebpage, url, page.Title, page.CleanedText, page.Markdown, meta)
	if err != nil {
		return err
	}

	seed := seedChunk(obj, meta)
	if err := p.storage.Objects().SaveWithSeedChunk(ctx, obj, seed); err != nil {
		return fmt.Errorf("failed to save object for %s: %w", url, err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("object_id", obj.ID).
		Str("url", url).
		Str("title", obj.Title).
		Msg("Webpage ingested")

	return parkForEmbedding(ctx, p.storage.Jobs(), job.ID, obj.ID)
}

// buildObject assembles a parsed content object from extraction output and
// AI metadata. The LLM title wins over the page title when present.
func buildObject(objectType models.ObjectType, sourceURI, fallbackTitle, cleanedText, parsedContent string, meta *models.DocumentMetadata) (*models.ContentObject, error) {
	title := meta.Title
	if title == "" {
		title = fallbackTitle
	}

	now := time.Now()
	obj := &models.ContentObject{
		ID:                common.NewObjectID(),
		ObjectType:        objectType,
		SourceURI:         sourceURI,
		Title:             title,
		CleanedText:       cleanedText,
		Summary:           meta.Summary,
		ParsedContentJSON: parsedContent,
		Status:            models.ObjectStatusParsed,
		ParsedAt:          &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	aiMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize AI metadata: %w", err)
	}
	obj.AIMetadataJSON = string(aiMeta)

	if len(meta.Tags) > 0 {
		data, err := json.Marshal(meta.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize tags: %w", err)
		}
		obj.TagsJSON = string(data)
	}
	if len(meta.Propositions) > 0 {
		data, err := json.Marshal(meta.Propositions)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize propositions: %w", err)
		}
		obj.PropositionsJSON = string(data)
	}

	return obj, nil
}

// seedChunk builds chunk zero from the document summary. The embedding
// worker replaces it with the full LLM chunk set; until then the object is
// never chunkless.
func seedChunk(obj *models.ContentObject, meta *models.DocumentMetadata) *models.Chunk {
	content := meta.Summary
	if content == "" {
		content = obj.Title
	}
	return &models.Chunk{
		ObjectID:         obj.ID,
		ChunkIdx:         0,
		Content:          content,
		TagsJSON:         obj.TagsJSON,
		PropositionsJSON: obj.PropositionsJSON,
		CreatedAt:        obj.CreatedAt,
	}
}

// parkForEmbedding moves the job to vectorizing and records the produced
// object. The scheduler leaves vectorizing jobs alone; the embedding worker
// finalizes them via CompleteForObject once the object reaches embedded.
func parkForEmbedding(ctx context.Context, jobs interfaces.JobRepository, jobID, objectID string) error {
	status := models.JobStatusVectorizing
	changed, err := jobs.Update(ctx, jobID, interfaces.JobUpdate{
		Status:          &status,
		RelatedObjectID: &objectID,
	})
	if err != nil {
		return fmt.Errorf("failed to park job %s for embedding: %w", jobID, err)
	}
	if !changed {
		return fmt.Errorf("job %s disappeared before embedding handoff", jobID)
	}
	return nil
}
