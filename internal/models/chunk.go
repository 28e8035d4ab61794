package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Chunk is an ordered fragment of a single object's cleaned text.
// Chunks are created in bulk by the embedding worker, never mutated,
// and deleted only by cascade when the parent object is deleted.
type Chunk struct {
	ID               int64  `json:"id"` // Dense integer surrogate, assigned by the store
	ObjectID         string `json:"object_id"`
	ChunkIdx         int    `json:"chunk_idx"` // Contiguous from 0 within an object
	Content          string `json:"content"`
	Summary          string `json:"summary,omitempty"`
	TagsJSON         string `json:"tags_json,omitempty"`
	PropositionsJSON string `json:"propositions_json,omitempty"`
	TokenCount       int    `json:"token_count"`

	CreatedAt time.Time `json:"created_at"`
}

// ChunkDescriptor is the shape of one chunk as returned by the LLM.
// ChunkIdx is optional; when absent the positional index is used.
// All descriptors are validated before chunks are materialized.
type ChunkDescriptor struct {
	ChunkIdx     *int     `json:"chunkIdx,omitempty"`
	Content      string   `json:"content" validate:"required,min=1"`
	Summary      string   `json:"summary,omitempty"`
	Tags         []string `json:"tags,omitempty" validate:"omitempty,dive,min=1"`
	Propositions []string `json:"propositions,omitempty" validate:"omitempty,dive,min=1"`
}

// Validate checks the descriptor using go-playground/validator.
func (d *ChunkDescriptor) Validate() error {
	validate := validator.New()
	return validate.Struct(d)
}

// MaterializeChunks converts LLM descriptors into chunk rows for one object.
// Each descriptor's explicit ChunkIdx wins; otherwise the positional index
// is used. Tags and propositions are serialized to JSON once here so the
// storage layer can treat them as opaque strings.
func MaterializeChunks(objectID string, descriptors []ChunkDescriptor) ([]*Chunk, error) {
	chunks := make([]*Chunk, 0, len(descriptors))
	now := time.Now()

	for i, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("chunk descriptor %d invalid: %w", i, err)
		}

		idx := i
		if d.ChunkIdx != nil {
			idx = *d.ChunkIdx
		}

		chunk := &Chunk{
			ObjectID:   objectID,
			ChunkIdx:   idx,
			Content:    d.Content,
			Summary:    d.Summary,
			TokenCount: estimateTokens(d.Content),
			CreatedAt:  now,
		}

		if len(d.Tags) > 0 {
			data, err := json.Marshal(d.Tags)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize tags for chunk %d: %w", i, err)
			}
			chunk.TagsJSON = string(data)
		}
		if len(d.Propositions) > 0 {
			data, err := json.Marshal(d.Propositions)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize propositions for chunk %d: %w", i, err)
			}
			chunk.PropositionsJSON = string(data)
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// estimateTokens approximates token count from character length.
// Good enough for storage stats; exact counts come from the model side.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
