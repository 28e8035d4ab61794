package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// fakeEmbedder maps known phrases to fixed vectors so similarity ordering
// is deterministic without an API
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func setupStore(t *testing.T) *BadgerStore {
	t.Helper()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"go concurrency":   {1, 0, 0},
		"goroutines":       {0.9, 0.1, 0},
		"sqlite internals": {0, 1, 0},
		"database pages":   {0.1, 0.9, 0},
	}}
	store, err := NewBadgerStore(&common.VectorsConfig{Path: t.TempDir()}, embedder, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addFixtures(t *testing.T, store *BadgerStore) []string {
	t.Helper()
	docs := []*models.VectorDocument{
		{Content: "goroutines", Metadata: map[string]interface{}{"object_id": "obj_1", "chunk_idx": 0}},
		{Content: "database pages", Metadata: map[string]interface{}{"object_id": "obj_2", "chunk_idx": 0}},
	}
	ids, err := store.AddDocuments(context.Background(), docs, []string{"vec-a", "vec-b"})
	require.NoError(t, err)
	require.Equal(t, []string{"vec-a", "vec-b"}, ids)
	return ids
}

func TestBadgerStore_AddAndQuery(t *testing.T) {
	store := setupStore(t)
	addFixtures(t, store)

	results, err := store.QuerySimilarByText(context.Background(), "go concurrency", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The goroutines chunk is closer to the concurrency query
	assert.Equal(t, "vec-a", results[0].Document.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, "obj_1", results[0].Document.Metadata["object_id"])
}

func TestBadgerStore_QueryWithFilter(t *testing.T) {
	store := setupStore(t)
	addFixtures(t, store)

	results, err := store.QuerySimilarByText(context.Background(), "go concurrency", 5,
		map[string]interface{}{"object_id": "obj_2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "vec-b", results[0].Document.ID)
}

func TestBadgerStore_GeneratedIDs(t *testing.T) {
	store := setupStore(t)

	ids, err := store.AddDocuments(context.Background(), []*models.VectorDocument{
		{Content: "goroutines"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])
}

func TestBadgerStore_IDLengthMismatch(t *testing.T) {
	store := setupStore(t)

	_, err := store.AddDocuments(context.Background(), []*models.VectorDocument{
		{Content: "goroutines"},
	}, []string{"a", "b"})
	assert.Error(t, err)
}

func TestBadgerStore_DeleteDocumentsByIds(t *testing.T) {
	store := setupStore(t)
	addFixtures(t, store)

	ctx := context.Background()
	// Unknown IDs are ignored, known ones removed
	require.NoError(t, store.DeleteDocumentsByIds(ctx, []string{"vec-a", "vec-missing"}))

	results, err := store.QuerySimilarByText(ctx, "go concurrency", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "vec-b", results[0].Document.ID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
