package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/queue"
	"github.com/ternarybob/colligo/internal/services/fetch"
	"github.com/ternarybob/colligo/internal/services/pdf"
	"github.com/ternarybob/colligo/internal/storage/sqlite"
)

// fakeLLM returns canned metadata without touching any API
type fakeLLM struct {
	meta *models.DocumentMetadata
	err  error
}

func (f *fakeLLM) ChunkText(ctx context.Context, cleanedText, objectID string) ([]models.ChunkDescriptor, error) {
	return []models.ChunkDescriptor{{Content: cleanedText}}, nil
}

func (f *fakeLLM) GenerateDocumentMetadata(ctx context.Context, title, text string) (*models.DocumentMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (f *fakeLLM) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeLLM) GetMode() string                       { return "fake" }
func (f *fakeLLM) Close() error                          { return nil }

func noopProgress(ctx context.Context, status models.JobStatus, message string) {}

func setupStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	storage, err := sqlite.NewManager(arbor.NewLogger(), &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "workers.db"),
		CacheSizeMB:   10,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func defaultMeta() *models.DocumentMetadata {
	return &models.DocumentMetadata{
		Title:        "Generated Title",
		Summary:      "A short summary of the document.",
		Tags:         []string{"go", "testing"},
		Propositions: []string{"The document is about Go."},
	}
}

func TestURLProcessor_Process(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Page Title</title></head><body><p>Body text long enough to skip the render fallback.</p></body></html>`))
	}))
	defer server.Close()

	storage := setupStorage(t)
	logger := arbor.NewLogger()
	fetcher := fetch.NewFetcher(&common.FetchConfig{
		UserAgent:      "colligo-test",
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1 << 20,
		MinTextLength:  1,
	}, logger)

	processor := NewURLProcessor(fetcher, &fakeLLM{meta: defaultMeta()}, storage, logger)

	ctx := context.Background()
	job, err := storage.Jobs().Create(ctx, models.JobTypeURL, server.URL, nil)
	require.NoError(t, err)

	require.NoError(t, processor.Process(ctx, job, noopProgress))

	// Job parked for the embedding worker
	updated, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusVectorizing, updated.Status)
	require.NotEmpty(t, updated.RelatedObjectID)

	obj, err := storage.Objects().GetByID(ctx, updated.RelatedObjectID)
	require.NoError(t, err)
	assert.Equal(t, models.ObjectStatusParsed, obj.Status)
	assert.Equal(t, models.ObjectTypeWebpage, obj.ObjectType)
	assert.Equal(t, "Generated Title", obj.Title)
	assert.Contains(t, obj.CleanedText, "Body text")
	assert.NotEmpty(t, obj.AIMetadataJSON)
	require.NotNil(t, obj.ParsedAt)

	// Seed chunk written alongside the object
	chunks, err := storage.Chunks().GetByObjectID(ctx, obj.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIdx)
	assert.Equal(t, "A short summary of the document.", chunks[0].Content)
}

func TestURLProcessor_FetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	storage := setupStorage(t)
	logger := arbor.NewLogger()
	fetcher := fetch.NewFetcher(&common.FetchConfig{
		UserAgent:      "colligo-test",
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1 << 20,
	}, logger)
	processor := NewURLProcessor(fetcher, &fakeLLM{meta: defaultMeta()}, storage, logger)

	ctx := context.Background()
	job, err := storage.Jobs().Create(ctx, models.JobTypeURL, server.URL, nil)
	require.NoError(t, err)

	err = processor.Process(ctx, job, noopProgress)
	require.Error(t, err)
	assert.False(t, queue.IsFatal(err), "fetch errors are transient and must stay retryable")
}

func generateTestPDF(t *testing.T, body string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Arial", "", 12)
	doc.AddPage()
	doc.MultiCell(0, 10, body, "", "L", false)
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func setupPDFProcessor(t *testing.T, storage interfaces.StorageManager, maxSize int64) (*PDFProcessor, string) {
	t.Helper()
	logger := arbor.NewLogger()
	filesDir := t.TempDir()
	processor := NewPDFProcessor(
		pdf.NewExtractor(logger),
		&fakeLLM{meta: defaultMeta()},
		storage,
		&common.FilesConfig{Dir: filesDir, MaxFileSizeBytes: maxSize},
		logger,
	)
	return processor, filesDir
}

func TestPDFProcessor_Process(t *testing.T) {
	storage := setupStorage(t)
	processor, filesDir := setupPDFProcessor(t, storage, 1<<20)

	content := generateTestPDF(t, "Colligo ingestion test document with enough text.")
	srcPath := filepath.Join(t.TempDir(), "upload.pdf")
	require.NoError(t, os.WriteFile(srcPath, content, 0644))

	ctx := context.Background()
	job, err := storage.Jobs().Create(ctx, models.JobTypePDF, srcPath, &models.JobOptions{OriginalFileName: "report.pdf"})
	require.NoError(t, err)

	require.NoError(t, processor.Process(ctx, job, noopProgress))

	updated, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusVectorizing, updated.Status)
	require.NotEmpty(t, updated.RelatedObjectID)

	obj, err := storage.Objects().GetByID(ctx, updated.RelatedObjectID)
	require.NoError(t, err)
	assert.Equal(t, models.ObjectTypePDF, obj.ObjectType)
	assert.Equal(t, "report.pdf", obj.SourceURI)
	assert.NotEmpty(t, obj.CleanedText)

	sum := sha256.Sum256(content)
	wantHash := hex.EncodeToString(sum[:])
	assert.Equal(t, wantHash, obj.FileHash)

	// Canonical copy stored under the files dir, keyed by hash
	stored := filepath.Join(filesDir, "pdfs", wantHash+".pdf")
	assert.Equal(t, stored, obj.InternalFilePath)
	_, err = os.Stat(stored)
	assert.NoError(t, err)
}

func TestPDFProcessor_OversizedFileIsFatal(t *testing.T) {
	storage := setupStorage(t)
	processor, _ := setupPDFProcessor(t, storage, 10)

	srcPath := filepath.Join(t.TempDir(), "big.pdf")
	require.NoError(t, os.WriteFile(srcPath, generateTestPDF(t, "oversized"), 0644))

	ctx := context.Background()
	job, err := storage.Jobs().Create(ctx, models.JobTypePDF, srcPath, nil)
	require.NoError(t, err)

	err = processor.Process(ctx, job, noopProgress)
	require.Error(t, err)
	assert.True(t, queue.IsFatal(err))
}

func TestPDFProcessor_FileAtSizeLimitIsAccepted(t *testing.T) {
	storage := setupStorage(t)

	content := generateTestPDF(t, "Exactly at the size limit.")
	srcPath := filepath.Join(t.TempDir(), "at-cap.pdf")
	require.NoError(t, os.WriteFile(srcPath, content, 0644))

	// Limit set to the file's exact size: the boundary is inclusive
	processor, _ := setupPDFProcessor(t, storage, int64(len(content)))

	ctx := context.Background()
	job, err := storage.Jobs().Create(ctx, models.JobTypePDF, srcPath, nil)
	require.NoError(t, err)

	require.NoError(t, processor.Process(ctx, job, noopProgress))

	updated, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusVectorizing, updated.Status)

	// One byte smaller tips the same file over the limit
	processor, _ = setupPDFProcessor(t, storage, int64(len(content))-1)
	tight, err := storage.Jobs().Create(ctx, models.JobTypePDF, srcPath, nil)
	require.NoError(t, err)

	err = processor.Process(ctx, tight, noopProgress)
	require.Error(t, err)
	assert.True(t, queue.IsFatal(err))
}

func TestPDFProcessor_DuplicateShortCircuit(t *testing.T) {
	storage := setupStorage(t)
	processor, _ := setupPDFProcessor(t, storage, 1<<20)

	content := generateTestPDF(t, "Duplicate detection fixture.")
	sum := sha256.Sum256(content)
	fileHash := hex.EncodeToString(sum[:])

	ctx := context.Background()
	now := time.Now()
	existing := &models.ContentObject{
		ID:          common.NewObjectID(),
		ObjectType:  models.ObjectTypePDF,
		SourceURI:   "original.pdf",
		FileHash:    fileHash,
		Title:       "Original",
		CleanedText: "already ingested",
		Status:      models.ObjectStatusEmbedded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, storage.Objects().SaveWithSeedChunk(ctx, existing, nil))

	srcPath := filepath.Join(t.TempDir(), "again.pdf")
	require.NoError(t, os.WriteFile(srcPath, content, 0644))

	job, err := storage.Jobs().Create(ctx, models.JobTypePDF, srcPath, nil)
	require.NoError(t, err)

	require.NoError(t, processor.Process(ctx, job, noopProgress))

	updated, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)
	assert.Equal(t, existing.ID, updated.RelatedObjectID)

	// No second object was created
	objects, err := storage.Objects().List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestPDFProcessor_ReplacesFailedDuplicate(t *testing.T) {
	storage := setupStorage(t)
	processor, _ := setupPDFProcessor(t, storage, 1<<20)

	content := generateTestPDF(t, "Failed duplicate fixture.")
	sum := sha256.Sum256(content)
	fileHash := hex.EncodeToString(sum[:])

	ctx := context.Background()
	now := time.Now()
	failed := &models.ContentObject{
		ID:          common.NewObjectID(),
		ObjectType:  models.ObjectTypePDF,
		SourceURI:   "broken.pdf",
		FileHash:    fileHash,
		Title:       "Broken",
		CleanedText: "partial",
		Status:      models.ObjectStatusParseFailed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, storage.Objects().SaveWithSeedChunk(ctx, failed, nil))

	srcPath := filepath.Join(t.TempDir(), "retry.pdf")
	require.NoError(t, os.WriteFile(srcPath, content, 0644))

	job, err := storage.Jobs().Create(ctx, models.JobTypePDF, srcPath, nil)
	require.NoError(t, err)

	require.NoError(t, processor.Process(ctx, job, noopProgress))

	// The failed object is gone, replaced by a fresh parsed one
	gone, err := storage.Objects().GetByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	updated, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	fresh, err := storage.Objects().GetByID(ctx, updated.RelatedObjectID)
	require.NoError(t, err)
	assert.Equal(t, models.ObjectStatusParsed, fresh.Status)
	assert.Equal(t, fileHash, fresh.FileHash)
}

const bookmarkExport = `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<DL><p>
  <DT><A HREF="https://go.dev/blog">The Go Blog</A>
  <DT><A HREF="https://sqlite.org">SQLite</A>
  <DT><A HREF="https://go.dev/blog">Duplicate Link</A>
  <DT><A HREF="javascript:void(0)">Not a bookmark</A>
  <DT><A HREF="https://example.com"></A>
</DL><p>`

func TestParseBookmarks(t *testing.T) {
	entries, err := ParseBookmarks(bookmarkExport)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "The Go Blog", entries[0].Title)
	assert.Equal(t, "https://go.dev/blog", entries[0].URL)
	// Entries without link text fall back to the URL
	assert.Equal(t, "https://example.com", entries[2].Title)
}

func TestBookmarkProcessor_Process(t *testing.T) {
	storage := setupStorage(t)
	processor := NewBookmarkProcessor(storage, arbor.NewLogger())

	srcPath := filepath.Join(t.TempDir(), "bookmarks.html")
	require.NoError(t, os.WriteFile(srcPath, []byte(bookmarkExport), 0644))

	ctx := context.Background()
	job, err := storage.Jobs().Create(ctx, models.JobTypeBookmarkBatch, srcPath, nil)
	require.NoError(t, err)

	require.NoError(t, processor.Process(ctx, job, noopProgress))

	// Batch jobs complete themselves
	updated, err := storage.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)

	var stats BookmarkBatchStats
	require.NoError(t, json.Unmarshal(updated.JobSpecificData, &stats))
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 0, stats.Skipped)

	objects, err := storage.Objects().List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, objects, 3)
	for _, obj := range objects {
		assert.Equal(t, models.ObjectTypeBookmark, obj.ObjectType)
		assert.Equal(t, models.ObjectStatusParsed, obj.Status)
	}
}

func TestBookmarkProcessor_EmptyFileIsFatal(t *testing.T) {
	storage := setupStorage(t)
	processor := NewBookmarkProcessor(storage, arbor.NewLogger())

	srcPath := filepath.Join(t.TempDir(), "empty.html")
	require.NoError(t, os.WriteFile(srcPath, []byte("<html><body>no links here</body></html>"), 0644))

	ctx := context.Background()
	job, err := storage.Jobs().Create(ctx, models.JobTypeBookmarkBatch, srcPath, nil)
	require.NoError(t, err)

	err = processor.Process(ctx, job, noopProgress)
	require.Error(t, err)
	assert.True(t, queue.IsFatal(err))
}
