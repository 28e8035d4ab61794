package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// Fetcher retrieves web pages, plain HTTP first with an optional headless
// rendering fallback for script-heavy pages
type Fetcher struct {
	config *common.FetchConfig
	client *http.Client
	logger arbor.ILogger
}

// NewFetcher creates a new page fetcher
func NewFetcher(config *common.FetchConfig, logger arbor.ILogger) *Fetcher {
	return &Fetcher{
		config: config,
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger,
	}
}

// FetchHTML retrieves the page body over plain HTTP
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed for %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return "", fmt.Errorf("unsupported content type %q for %s", contentType, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", url, err)
	}

	f.logger.Debug().
		Str("url", url).
		Int("bytes", len(body)).
		Int("status", resp.StatusCode).
		Msg("Page fetched")

	return string(body), nil
}

// FetchPage retrieves and extracts a page. When static extraction yields too
// little text and JavaScript rendering is enabled, the page is re-fetched
// through a headless browser and re-extracted.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (*ExtractedPage, error) {
	html, err := f.FetchHTML(ctx, url)
	if err != nil {
		return nil, err
	}

	page, err := ExtractPage(html)
	if err != nil {
		return nil, err
	}

	if len(page.CleanedText) < f.config.MinTextLength && f.config.EnableJavaScript {
		f.logger.Info().
			Str("url", url).
			Int("text_length", len(page.CleanedText)).
			Msg("Static extraction too thin, falling back to headless rendering")

		rendered, rerr := f.FetchRendered(ctx, url)
		if rerr != nil {
			f.logger.Warn().Str("url", url).Err(rerr).Msg("Headless rendering failed, keeping static extraction")
			return page, nil
		}

		renderedPage, perr := ExtractPage(rendered)
		if perr == nil && len(renderedPage.CleanedText) > len(page.CleanedText) {
			return renderedPage, nil
		}
	}

	return page, nil
}
