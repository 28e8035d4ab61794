// -----------------------------------------------------------------------
// Bookmark Processor - Ingests a browser bookmark export (Netscape HTML):
// parses every link into a lightweight bookmark object
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/queue"
)

// BookmarkEntry is one link parsed from a bookmark export
type BookmarkEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// BookmarkBatchStats summarizes a batch run, stored on the job as
// job-specific data for the admin surface.
type BookmarkBatchStats struct {
	TotalEntries int `json:"total_entries"`
	Created      int `json:"created"`
	Skipped      int `json:"skipped"`
}

// BookmarkProcessor handles jobs of type "bookmark-batch". Unlike the URL
// and PDF processors it produces many objects per job and completes the
// job itself; there is no single related object to hand off.
type BookmarkProcessor struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

var _ interfaces.Processor = (*BookmarkProcessor)(nil)

// NewBookmarkProcessor creates a new bookmark batch processor
func NewBookmarkProcessor(storage interfaces.StorageManager, logger arbor.ILogger) *BookmarkProcessor {
	return &BookmarkProcessor{
		storage: storage,
		logger:  logger,
	}
}

// Process parses the export file and creates one bookmark object per link.
// Entries that fail to save are counted and skipped; the batch only fails
// when nothing at all could be created.
func (p *BookmarkProcessor) Process(ctx context.Context, job *models.IngestionJob, progress interfaces.ProgressReporter) error {
	progress(ctx, models.JobStatusProcessingSource, fmt.Sprintf("Reading %s", job.SourceIdentifier))

	content, err := os.ReadFile(job.SourceIdentifier)
	if err != nil {
		return fmt.Errorf("failed to read bookmark file: %w", err)
	}

	progress(ctx, models.JobStatusParsingContent, "Parsing bookmark entries")

	entries, err := ParseBookmarks(string(content))
	if err != nil {
		return queue.Fatal(fmt.Errorf("failed to parse bookmark file: %w", err))
	}
	if len(entries) == 0 {
		return queue.Fatal(fmt.Errorf("no bookmark entries found in %s", job.SourceIdentifier))
	}

	progress(ctx, models.JobStatusPersistingData, fmt.Sprintf("Saving %d bookmarks", len(entries)))

	stats := BookmarkBatchStats{TotalEntries: len(entries)}
	for _, entry := range entries {
		if err := p.saveEntry(ctx, entry); err != nil {
			p.logger.Warn().
				Str("job_id", job.ID).
				Str("url", entry.URL).
				Err(err).
				Msg("Skipping bookmark entry")
			stats.Skipped++
			continue
		}
		stats.Created++
	}

	if data, err := json.Marshal(stats); err == nil {
		if _, err := p.storage.Jobs().Update(ctx, job.ID, interfaces.JobUpdate{JobSpecificData: data}); err != nil {
			p.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to record batch stats")
		}
	}

	if stats.Created == 0 {
		return fmt.Errorf("all %d bookmark entries failed to save", stats.TotalEntries)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Int("total", stats.TotalEntries).
		Int("created", stats.Created).
		Int("skipped", stats.Skipped).
		Msg("Bookmark batch ingested")

	// Batch jobs complete here; the scheduler sees the terminal status and
	// only emits the completion event.
	if err := p.storage.Jobs().MarkAsCompleted(ctx, job.ID, ""); err != nil {
		return fmt.Errorf("failed to complete bookmark batch: %w", err)
	}
	return nil
}

func (p *BookmarkProcessor) saveEntry(ctx context.Context, entry BookmarkEntry) error {
	now := time.Now()
	obj := &models.ContentObject{
		ID:          common.NewObjectID(),
		ObjectType:  models.ObjectTypeBookmark,
		SourceURI:   entry.URL,
		Title:       entry.Title,
		CleanedText: entry.Title + "\n" + entry.URL,
		Status:      models.ObjectStatusParsed,
		ParsedAt:    &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	seed := &models.Chunk{
		ObjectID:  obj.ID,
		ChunkIdx:  0,
		Content:   obj.CleanedText,
		CreatedAt: now,
	}

	return p.storage.Objects().SaveWithSeedChunk(ctx, obj, seed)
}

// ParseBookmarks extracts link entries from a Netscape bookmark export.
// Duplicate URLs within one file are collapsed, first occurrence wins.
func ParseBookmarks(html string) ([]BookmarkEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var entries []BookmarkEntry
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !strings.HasPrefix(href, "http") {
			return
		}
		if seen[href] {
			return
		}
		seen[href] = true

		title := strings.TrimSpace(sel.Text())
		if title == "" {
			title = href
		}
		entries = append(entries, BookmarkEntry{Title: title, URL: href})
	})

	return entries, nil
}
