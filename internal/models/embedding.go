package models

import "time"

// EmbeddingLink is the relational bridge between a chunk and the opaque
// ID the external vector store assigned to its vector. (chunk_id, model)
// is effectively unique; vector_id is globally unique.
type EmbeddingLink struct {
	ID        int64     `json:"id"`
	ChunkID   int64     `json:"chunk_id"`
	Model     string    `json:"model"` // Embedding model identifier
	VectorID  string    `json:"vector_id"`
	CreatedAt time.Time `json:"created_at"`
}
