// -----------------------------------------------------------------------
// PDF Processor - Ingests a local PDF file: size and duplicate checks,
// canonical file storage, text extraction, AI metadata, persist
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/queue"
	"github.com/ternarybob/colligo/internal/services/pdf"
)

// PDFProcessor handles jobs of type "pdf". The job's source identifier is
// a local file path; the file is fingerprinted, deduplicated against
// existing live objects, copied into canonical storage and extracted.
type PDFProcessor struct {
	extractor *pdf.Extractor
	llm       interfaces.LLMService
	storage   interfaces.StorageManager
	config    *common.FilesConfig
	logger    arbor.ILogger
}

var _ interfaces.Processor = (*PDFProcessor)(nil)

// NewPDFProcessor creates a new PDF ingestion processor
func NewPDFProcessor(extractor *pdf.Extractor, llm interfaces.LLMService, storage interfaces.StorageManager, config *common.FilesConfig, logger arbor.ILogger) *PDFProcessor {
	return &PDFProcessor{
		extractor: extractor,
		llm:       llm,
		storage:   storage,
		config:    config,
		logger:    logger,
	}
}

// Process ingests one PDF. Oversized and encrypted files fail without
// retries since no attempt can succeed. A live object with the same
// content hash short-circuits the job to completed against that object.
func (p *PDFProcessor) Process(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
	progress(ctx, models.JobStatusProcessingSource, fmt.Sprintf("Reading %s", job.SourceIdentifier))

	info, err := os.Stat(job.SourceIdentifier)
	if err != nil {
		return fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if p.config.MaxFileSizeBytes > 0 && info.Size() > p.config.MaxFileSizeBytes {
		return queue.Fatal(fmt.Errorf("file size %d exceeds limit %d bytes", info.Size(), p.config.MaxFileSizeBytes))
	}

	content, err := os.ReadFile(job.SourceIdentifier)
	if err != nil {
		return fmt.Errorf("failed to read PDF file: %w", err)
	}

	sum := sha256.Sum256(content)
	fileHash := hex.EncodeToString(sum[:])

	// A live object with this hash means the file was already ingested;
	// complete against it instead of creating a duplicate.
	existing, err := p.storage.Objects().GetByFileHash(ctx, fileHash, false)
	if err != nil {
		return fmt.Errorf("duplicate lookup failed: %w", err)
	}
	if existing != nil {
		p.logger.Info().
			Str("job_id", job.ID).
			Str("object_id", existing.ID).
			Str("file_hash", fileHash).
			Msg("Duplicate PDF, reusing existing object")
		if err := p.storage.Jobs().MarkAsCompleted(ctx, job.ID, existing.ID); err != nil {
			return fmt.Errorf("failed to complete duplicate job: %w", err)
		}
		return nil
	}

	// A failed object with this hash is replaced by the fresh ingestion
	failed, err := p.storage.Objects().GetByFileHash(ctx, fileHash, true)
	if err != nil {
		return fmt.Errorf("duplicate lookup failed: %w", err)
	}
	if failed != nil && failed.Status.IsFailed() {
		p.logger.Info().
			Str("object_id", failed.ID).
			Str("status", string(failed.Status)).
			Msg("Replacing failed object for re-ingested PDF")
		if err := p.storage.Objects().Delete(ctx, failed.ID); err != nil {
			return fmt.Errorf("failed to delete failed duplicate: %w", err)
		}
	}

	internalPath, err := p.storeFile(fileHash, content)
	if err != nil {
		return err
	}

	progress(ctx, models.JobStatusParsingContent, "Extracting PDF text")

	meta, err := p.extractor.GetMetadata(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to read PDF structure: %w", err)
	}
	if meta.IsEncrypted {
		return queue.Fatal(fmt.Errorf("PDF is encrypted"))
	}

	text, err := p.extractor.ExtractTextFromBytes(ctx, content)
	if err != nil {
		return fmt.Errorf("PDF text extraction failed: %w", err)
	}
	if text == "" {
		return fmt.Errorf("no text content extracted from PDF (%d pages)", meta.PageCount)
	}

	progress(ctx, models.JobStatusAIProcessing, "Generating document metadata")

	fileName := job.OriginalFileName
	if fileName == "" {
		fileName = filepath.Base(job.SourceIdentifier)
	}

	docMeta, err := p.llm.GenerateDocumentMetadata(ctx, fileName, text)
	if err != nil {
		return fmt.Errorf("metadata generation failed: %w", err)
	}

	progress(ctx, models.JobStatusPersistingData, "Saving content object")

	obj, err := buildObject(models.ObjectTypePDF, fileName, fileName, text, "", docMeta)
	if err != nil {
		return err
	}
	obj.FileHash = fileHash
	obj.InternalFilePath = internalPath

	seed := seedChunk(obj, docMeta)
	if err := p.storage.Objects().SaveWithSeedChunk(ctx, obj, seed); err != nil {
		return fmt.Errorf("failed to save object for %s: %w", fileName, err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("object_id", obj.ID).
		Str("file_name", fileName).
		Int("page_count", meta.PageCount).
		Msg("PDF ingested")

	return parkForEmbedding(ctx, p.storage.Jobs(), job.ID, obj.ID)
}

// storeFile copies the PDF into canonical storage keyed by content hash,
// so re-ingesting the same bytes never duplicates the file on disk.
func (p *PDFProcessor) storeFile(fileHash string, content []byte) (string, error) {
	dir := filepath.Join(p.config.Dir, "pdfs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create file storage dir: %w", err)
	}

	path := filepath.Join(dir, fileHash+".pdf")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to store PDF file: %w", err)
	}
	return path, nil
}
