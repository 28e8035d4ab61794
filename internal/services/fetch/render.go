package fetch

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// FetchRendered retrieves the page through a headless browser, waiting for
// scripts to run before capturing the DOM
func (f *Fetcher) FetchRendered(ctx context.Context, url string) (string, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(f.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocatorCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	defer browserCancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(browserCtx, f.config.RequestTimeout)
	defer timeoutCancel()

	var html string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(f.config.JavaScriptWaitTime),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("headless rendering failed for %s: %w", url, err)
	}

	f.logger.Debug().
		Str("url", url).
		Int("bytes", len(html)).
		Msg("Page rendered")

	return html, nil
}
