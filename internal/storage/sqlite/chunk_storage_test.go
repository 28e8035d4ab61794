package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

func TestChunkStorage_ReplaceForObject(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	objects := NewObjectStorage(db, logger)
	chunks := NewChunkStorage(db, logger)
	ctx := context.Background()

	obj := newTestObject(models.ObjectTypeWebpage, "https://example.com")
	seed := &models.Chunk{ObjectID: obj.ID, ChunkIdx: 0, Content: "seed summary"}
	require.NoError(t, objects.SaveWithSeedChunk(ctx, obj, seed))

	// Replacement supersedes the seed chunk
	replacement := []*models.Chunk{
		{ObjectID: obj.ID, ChunkIdx: 0, Content: "chunk zero", TokenCount: 3},
		{ObjectID: obj.ID, ChunkIdx: 1, Content: "chunk one", TokenCount: 3},
		{ObjectID: obj.ID, ChunkIdx: 2, Content: "chunk two", TokenCount: 3},
	}
	require.NoError(t, chunks.ReplaceForObject(ctx, obj.ID, replacement))

	stored, err := chunks.GetByObjectID(ctx, obj.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "chunk zero", stored[0].Content)
	assert.Equal(t, "chunk two", stored[2].Content)
	for i, chunk := range stored {
		assert.Equal(t, i, chunk.ChunkIdx)
		assert.Positive(t, chunk.ID)
	}
}

func TestChunkStorage_ReplaceForObject_Empty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	objects := NewObjectStorage(db, logger)
	chunks := NewChunkStorage(db, logger)
	ctx := context.Background()

	obj := newTestObject(models.ObjectTypeWebpage, "https://example.com")
	seed := &models.Chunk{ObjectID: obj.ID, ChunkIdx: 0, Content: "seed"}
	require.NoError(t, objects.SaveWithSeedChunk(ctx, obj, seed))

	require.NoError(t, chunks.ReplaceForObject(ctx, obj.ID, nil))

	count, err := chunks.CountByObjectID(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEmbeddingStorage_InsertIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	objects := NewObjectStorage(db, logger)
	chunks := NewChunkStorage(db, logger)
	embeddings := NewEmbeddingStorage(db, logger)
	ctx := context.Background()

	obj := newTestObject(models.ObjectTypeWebpage, "https://example.com")
	require.NoError(t, objects.SaveWithSeedChunk(ctx, obj, nil))

	chunkSet := []*models.Chunk{{ObjectID: obj.ID, ChunkIdx: 0, Content: "content"}}
	require.NoError(t, chunks.ReplaceForObject(ctx, obj.ID, chunkSet))

	link := &models.EmbeddingLink{ChunkID: chunkSet[0].ID, Model: "m1", VectorID: "vec-1"}
	first, err := embeddings.Insert(ctx, link)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Positive(t, first.ID)

	// Same vector_id again: existing row returned, no duplicate
	second, err := embeddings.Insert(ctx, &models.EmbeddingLink{ChunkID: chunkSet[0].ID, Model: "m1", VectorID: "vec-1"})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	// Same (chunk, model) with a fresh vector_id resolves the same way:
	// the stored link wins, the new vector_id is discarded
	third, err := embeddings.Insert(ctx, &models.EmbeddingLink{ChunkID: chunkSet[0].ID, Model: "m1", VectorID: "vec-2"})
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "vec-1", third.VectorID)

	count, err := embeddings.CountByObjectID(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEmbeddingStorage_GetByChunkID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	objects := NewObjectStorage(db, logger)
	chunks := NewChunkStorage(db, logger)
	embeddings := NewEmbeddingStorage(db, logger)
	ctx := context.Background()

	obj := newTestObject(models.ObjectTypeWebpage, "https://example.com")
	require.NoError(t, objects.SaveWithSeedChunk(ctx, obj, nil))
	chunkSet := []*models.Chunk{{ObjectID: obj.ID, ChunkIdx: 0, Content: "content"}}
	require.NoError(t, chunks.ReplaceForObject(ctx, obj.ID, chunkSet))

	_, err := embeddings.Insert(ctx, &models.EmbeddingLink{ChunkID: chunkSet[0].ID, Model: "m1", VectorID: "vec-9"})
	require.NoError(t, err)

	found, err := embeddings.GetByChunkID(ctx, chunkSet[0].ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "vec-9", found.VectorID)

	missing, err := embeddings.GetByChunkID(ctx, chunkSet[0].ID, "other-model")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
