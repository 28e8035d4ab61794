package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

const chunkingSystemPrompt = `You split documents into semantically coherent chunks for a personal knowledge base.
Respond with a JSON array only. Each element has this shape:
{"chunkIdx": 0, "content": "...", "summary": "...", "tags": ["..."], "propositions": ["..."]}
Rules:
- content is a verbatim passage from the document, 200-1500 words, never empty
- chunks together cover the document in order, without large gaps
- summary is one or two sentences in your own words
- tags are short lowercase topic labels
- propositions are standalone factual statements the chunk supports
Return the JSON array and nothing else.`

const metadataSystemPrompt = `You write catalog metadata for documents in a personal knowledge base.
Respond with a single JSON object only, in this shape:
{"title": "...", "summary": "...", "tags": ["..."], "propositions": ["..."]}
Rules:
- title: the document's own title when evident, otherwise a concise descriptive one
- summary: three to five sentences covering the document's substance
- tags: short lowercase topic labels
- propositions: the document's key claims as standalone statements
Return the JSON object and nothing else.`

// maxPromptChars caps how much document text is sent in one prompt.
// Roughly 25k tokens, comfortably inside every supported model's window.
const maxPromptChars = 100_000

func buildChunkingPrompt(cleanedText string) string {
	return fmt.Sprintf("Split the following document into chunks.\n\n---\n%s\n---", clipText(cleanedText))
}

func buildMetadataPrompt(title, text string) string {
	return fmt.Sprintf("Document title hint: %s\n\nDocument text:\n---\n%s\n---", title, clipText(text))
}

func clipText(text string) string {
	if len(text) > maxPromptChars {
		return text[:maxPromptChars]
	}
	return text
}

// stripCodeFence removes a Markdown code fence wrapper if the model added
// one despite instructions
func stripCodeFence(response string) string {
	trimmed := strings.TrimSpace(response)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	// Drop the opening fence line (possibly "```json") and the closing fence
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// parseChunkDescriptors decodes and validates the model's chunking response
func parseChunkDescriptors(response string) ([]models.ChunkDescriptor, error) {
	cleaned := stripCodeFence(response)

	var descriptors []models.ChunkDescriptor
	if err := json.Unmarshal([]byte(cleaned), &descriptors); err != nil {
		return nil, fmt.Errorf("chunking response is not a JSON array: %w", err)
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("chunking response contained no chunks")
	}

	for i := range descriptors {
		if err := descriptors[i].Validate(); err != nil {
			return nil, fmt.Errorf("chunk %d failed validation: %w", i, err)
		}
	}
	return descriptors, nil
}

// parseDocumentMetadata decodes and validates the model's metadata response
func parseDocumentMetadata(response string) (*models.DocumentMetadata, error) {
	cleaned := stripCodeFence(response)

	var metadata models.DocumentMetadata
	if err := json.Unmarshal([]byte(cleaned), &metadata); err != nil {
		return nil, fmt.Errorf("metadata response is not a JSON object: %w", err)
	}
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("metadata failed validation: %w", err)
	}
	return &metadata, nil
}
