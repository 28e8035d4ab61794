package models

import "time"

// ObjectStatus represents the lifecycle state of a content object.
//
// Transitions are restricted to:
//
//	new → fetched → parsed → embedding → embedded
//	 │        │        │         │
//	 ▼        ▼        ▼         ▼
//	error  fetch_  parse_   embedding_
//	       failed  failed     failed
type ObjectStatus string

const (
	ObjectStatusNew       ObjectStatus = "new"
	ObjectStatusFetched   ObjectStatus = "fetched"
	ObjectStatusParsed    ObjectStatus = "parsed"
	ObjectStatusEmbedding ObjectStatus = "embedding"
	ObjectStatusEmbedded  ObjectStatus = "embedded"

	ObjectStatusFetchFailed     ObjectStatus = "fetch_failed"
	ObjectStatusParseFailed     ObjectStatus = "parse_failed"
	ObjectStatusEmbeddingFailed ObjectStatus = "embedding_failed"
	ObjectStatusError           ObjectStatus = "error"
)

// IsFailed returns true for any failure state
func (s ObjectStatus) IsFailed() bool {
	switch s {
	case ObjectStatusFetchFailed, ObjectStatusParseFailed, ObjectStatusEmbeddingFailed, ObjectStatusError:
		return true
	}
	return false
}

// ObjectType identifies the kind of ingested artifact
type ObjectType string

const (
	ObjectTypeWebpage  ObjectType = "webpage"
	ObjectTypePDF      ObjectType = "pdf_document"
	ObjectTypeBookmark ObjectType = "bookmark"
)

// ContentObject is the durable representation of one ingested artifact.
// Created by an ingestion worker on first successful fetch+parse, advanced
// by the embedding worker, deleted only by explicit administrative action.
type ContentObject struct {
	// Identity
	ID         string     `json:"id"`
	ObjectType ObjectType `json:"object_type"`
	SourceURI  string     `json:"source_uri"` // Normalized source URL or filename
	FileHash   string     `json:"file_hash,omitempty"` // Content fingerprint for file-type objects

	// Extracted artifacts
	Title             string `json:"title"`
	CleanedText       string `json:"cleaned_text"`
	Summary           string `json:"summary,omitempty"`
	ParsedContentJSON string `json:"parsed_content_json,omitempty"`
	AIMetadataJSON    string `json:"ai_metadata_json,omitempty"`
	PropositionsJSON  string `json:"propositions_json,omitempty"`
	TagsJSON          string `json:"tags_json,omitempty"`

	// Lifecycle
	Status    ObjectStatus `json:"status"`
	ErrorInfo string       `json:"error_info,omitempty"`

	// Timestamps
	ParsedAt           *time.Time `json:"parsed_at,omitempty"`
	SummaryGeneratedAt *time.Time `json:"summary_generated_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastAccessedAt     *time.Time `json:"last_accessed_at,omitempty"`

	// Canonical storage path for file-type objects
	InternalFilePath string `json:"internal_file_path,omitempty"`
}
