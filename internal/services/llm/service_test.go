package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// fakeCompleter returns a canned response
type fakeCompleter struct {
	response string
	err      error
	lastUser string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.lastUser = user
	return f.response, f.err
}
func (f *fakeCompleter) HealthCheck(ctx context.Context) error { return f.err }
func (f *fakeCompleter) Name() string                          { return "fake" }
func (f *fakeCompleter) Close() error                          { return nil }

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func TestParseChunkDescriptors_PlainJSON(t *testing.T) {
	response := `[
		{"chunkIdx": 0, "content": "First passage.", "summary": "Intro", "tags": ["intro"]},
		{"chunkIdx": 1, "content": "Second passage.", "propositions": ["It has two parts."]}
	]`
	descriptors, err := parseChunkDescriptors(response)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "First passage.", descriptors[0].Content)
	require.NotNil(t, descriptors[1].ChunkIdx)
	assert.Equal(t, 1, *descriptors[1].ChunkIdx)
}

func TestParseChunkDescriptors_FencedJSON(t *testing.T) {
	response := "```json\n[{\"content\": \"Fenced passage.\"}]\n```"
	descriptors, err := parseChunkDescriptors(response)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "Fenced passage.", descriptors[0].Content)
}

func TestParseChunkDescriptors_Invalid(t *testing.T) {
	_, err := parseChunkDescriptors("not json at all")
	assert.Error(t, err)

	_, err = parseChunkDescriptors("[]")
	assert.Error(t, err)

	// Empty content fails validation
	_, err = parseChunkDescriptors(`[{"content": ""}]`)
	assert.Error(t, err)
}

func TestParseDocumentMetadata(t *testing.T) {
	response := "```\n{\"title\": \"A Title\", \"summary\": \"A summary.\", \"tags\": [\"go\"], \"propositions\": [\"Fact one.\"]}\n```"
	metadata, err := parseDocumentMetadata(response)
	require.NoError(t, err)
	assert.Equal(t, "A Title", metadata.Title)
	assert.Equal(t, []string{"go"}, metadata.Tags)
}

func TestParseDocumentMetadata_MissingRequired(t *testing.T) {
	_, err := parseDocumentMetadata(`{"title": "", "summary": "s"}`)
	assert.Error(t, err)
}

func TestService_ChunkText(t *testing.T) {
	completer := &fakeCompleter{response: `[{"content": "A passage from the text."}]`}
	svc := NewService(completer, &fakeEmbedder{}, arbor.NewLogger())

	descriptors, err := svc.ChunkText(context.Background(), "Some long cleaned text.", "obj_1")
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Contains(t, completer.lastUser, "Some long cleaned text.")
}

func TestService_ChunkText_EmptyInput(t *testing.T) {
	svc := NewService(&fakeCompleter{}, &fakeEmbedder{}, arbor.NewLogger())
	_, err := svc.ChunkText(context.Background(), "", "obj_1")
	assert.Error(t, err)
}

func TestService_ChunkText_CompletionError(t *testing.T) {
	svc := NewService(&fakeCompleter{err: fmt.Errorf("rate limited")}, &fakeEmbedder{}, arbor.NewLogger())
	_, err := svc.ChunkText(context.Background(), "text", "obj_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestService_GenerateDocumentMetadata(t *testing.T) {
	completer := &fakeCompleter{response: `{"title": "Doc", "summary": "About things."}`}
	svc := NewService(completer, &fakeEmbedder{}, arbor.NewLogger())

	metadata, err := svc.GenerateDocumentMetadata(context.Background(), "hint", "body text")
	require.NoError(t, err)
	assert.Equal(t, "Doc", metadata.Title)
	assert.Contains(t, completer.lastUser, "hint")
}

func TestClipText(t *testing.T) {
	long := make([]byte, maxPromptChars+100)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, clipText(string(long)), maxPromptChars)
	assert.Equal(t, "short", clipText("short"))
}
