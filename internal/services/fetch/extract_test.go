package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title>Understanding Goroutines</title>
	<meta property="og:title" content="OG Title">
	<script>console.log("noise")</script>
	<style>body { color: red; }</style>
</head>
<body>
	<nav>Home | About</nav>
	<article>
		<h1>Understanding Goroutines</h1>
		<p>Goroutines are lightweight threads managed by the Go runtime.</p>
		<p>They are cheap to create and multiplex onto OS threads.</p>
	</article>
	<footer>Copyright 2026</footer>
</body>
</html>`

func TestExtractPage(t *testing.T) {
	page, err := ExtractPage(samplePage)
	require.NoError(t, err)

	assert.Equal(t, "Understanding Goroutines", page.Title)
	assert.Contains(t, page.Markdown, "Goroutines are lightweight threads")
	assert.Contains(t, page.CleanedText, "lightweight threads managed by the Go runtime")

	// Chrome and noise must not survive extraction
	assert.NotContains(t, page.CleanedText, "console.log")
	assert.NotContains(t, page.CleanedText, "color: red")
	assert.NotContains(t, page.CleanedText, "Home | About")
	assert.NotContains(t, page.CleanedText, "Copyright 2026")
}

func TestExtractTitle_Cascade(t *testing.T) {
	page, err := ExtractPage(`<html><head><meta property="og:title" content="From OG"></head><body><p>x</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "From OG", page.Title)

	page, err = ExtractPage(`<html><body><h1>From H1</h1></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "From H1", page.Title)

	page, err = ExtractPage(`<html><body><p>nothing here</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", page.Title)
}

func TestMarkdownToPlainText(t *testing.T) {
	markdown := "# Heading\n\nFirst paragraph with **bold** text.\n\n- item one\n- item two\n\n[a link](https://example.com)"
	plain := MarkdownToPlainText(markdown)

	assert.Contains(t, plain, "Heading")
	assert.Contains(t, plain, "First paragraph with bold text.")
	assert.Contains(t, plain, "item one")
	assert.Contains(t, plain, "a link")
	assert.NotContains(t, plain, "**")
	assert.NotContains(t, plain, "# ")
}

func TestFetcher_FetchHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer server.Close()

	fetcher := NewFetcher(&common.FetchConfig{
		UserAgent:      "colligo-test",
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1024 * 1024,
		MinTextLength:  10,
	}, arbor.NewLogger())

	html, err := fetcher.FetchHTML(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, html, "Understanding Goroutines")
}

func TestFetcher_FetchHTML_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(&common.FetchConfig{
		UserAgent:      "colligo-test",
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1024 * 1024,
	}, arbor.NewLogger())

	_, err := fetcher.FetchHTML(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetcher_FetchHTML_BodySizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for i := 0; i < 1000; i++ {
			w.Write([]byte("0123456789"))
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(&common.FetchConfig{
		UserAgent:      "colligo-test",
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    100,
	}, arbor.NewLogger())

	html, err := fetcher.FetchHTML(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, html, 100)
}

func TestFetcher_FetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer server.Close()

	fetcher := NewFetcher(&common.FetchConfig{
		UserAgent:      "colligo-test",
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1024 * 1024,
		MinTextLength:  10,
		// JavaScript fallback disabled so the test never spawns a browser
		EnableJavaScript: false,
	}, arbor.NewLogger())

	page, err := fetcher.FetchPage(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Understanding Goroutines", page.Title)
	assert.Contains(t, page.CleanedText, "Go runtime")
}
