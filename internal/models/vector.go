package models

// VectorDocument is the unit pushed to the vector store: the chunk content
// plus enough metadata to render a search hit without a relational lookup.
type VectorDocument struct {
	ID       string                 `json:"id,omitempty"` // Assigned by the store when empty
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScoredDocument is one similarity-search result
type ScoredDocument struct {
	Document VectorDocument `json:"document"`
	Score    float64        `json:"score"` // Cosine similarity, higher is closer
}
