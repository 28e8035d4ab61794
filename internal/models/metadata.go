package models

import "github.com/go-playground/validator/v10"

// DocumentMetadata is the object-level metadata the LLM extracts from a
// freshly parsed artifact: a title, a short summary, topical tags and
// standalone factual propositions.
type DocumentMetadata struct {
	Title        string   `json:"title" validate:"required,min=1"`
	Summary      string   `json:"summary" validate:"required,min=1"`
	Tags         []string `json:"tags,omitempty" validate:"omitempty,dive,min=1"`
	Propositions []string `json:"propositions,omitempty" validate:"omitempty,dive,min=1"`
}

// Validate checks the metadata using go-playground/validator.
func (m *DocumentMetadata) Validate() error {
	validate := validator.New()
	return validate.Struct(m)
}
