package pdf

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func generatePDF(t *testing.T, pages []string) []byte {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Arial", "", 12)
	for _, page := range pages {
		doc.AddPage()
		doc.MultiCell(0, 10, page, "", "L", false)
	}

	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestExtractor_GetMetadata(t *testing.T) {
	extractor := NewExtractor(arbor.NewLogger())
	content := generatePDF(t, []string{"first page", "second page", "third page"})

	meta, err := extractor.GetMetadata(context.Background(), content)
	require.NoError(t, err)

	assert.Equal(t, 3, meta.PageCount)
	assert.Equal(t, int64(len(content)), meta.FileSize)
	assert.False(t, meta.IsEncrypted)
}

func TestExtractor_ExtractTextFromBytes(t *testing.T) {
	extractor := NewExtractor(arbor.NewLogger())
	content := generatePDF(t, []string{"Hello from page one", "Hello from page two"})

	text, err := extractor.ExtractTextFromBytes(context.Background(), content)
	require.NoError(t, err)

	assert.NotEmpty(t, text)
	assert.Contains(t, text, "--- Page 2 ---")
}

func TestExtractor_ExtractTextFromBytes_InvalidPDF(t *testing.T) {
	extractor := NewExtractor(arbor.NewLogger())

	_, err := extractor.ExtractTextFromBytes(context.Background(), []byte("not a pdf at all"))
	assert.Error(t, err)
}

func TestExtractor_ReadPDFFromFile_Missing(t *testing.T) {
	extractor := NewExtractor(arbor.NewLogger())

	_, err := extractor.ReadPDFFromFile(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to read PDF file"))
}
