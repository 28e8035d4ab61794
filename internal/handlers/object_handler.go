package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// ObjectHandler exposes ingested content objects over HTTP
type ObjectHandler struct {
	storage    interfaces.StorageManager
	vectors    interfaces.VectorStore
	embedModel string
	logger     arbor.ILogger
}

func NewObjectHandler(storage interfaces.StorageManager, vectors interfaces.VectorStore, embedModel string) *ObjectHandler {
	return &ObjectHandler{
		storage:    storage,
		vectors:    vectors,
		embedModel: embedModel,
		logger:     common.GetLogger(),
	}
}

// ListObjectsHandler returns objects, newest first
func (h *ObjectHandler) ListObjectsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	objects, err := h.storage.Objects().List(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list objects")
		WriteError(w, http.StatusInternalServerError, "Failed to list objects")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"objects": objects,
		"count":   len(objects),
	})
}

// ObjectRoutesHandler dispatches /api/objects/{id} and its subpaths
func (h *ObjectHandler) ObjectRoutesHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/objects/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Object ID required")
		return
	}
	objectID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == "GET":
		h.getObject(w, r, objectID)
	case len(parts) == 1 && r.Method == "DELETE":
		h.deleteObject(w, r, objectID)
	case len(parts) == 2 && parts[1] == "chunks" && r.Method == "GET":
		h.getChunks(w, r, objectID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *ObjectHandler) getObject(w http.ResponseWriter, r *http.Request, objectID string) {
	obj, err := h.storage.Objects().GetByID(r.Context(), objectID)
	if err != nil {
		h.logger.Error().Err(err).Str("object_id", objectID).Msg("Failed to get object")
		WriteError(w, http.StatusInternalServerError, "Failed to get object")
		return
	}
	if obj == nil {
		WriteError(w, http.StatusNotFound, "Object not found")
		return
	}
	WriteJSON(w, http.StatusOK, obj)
}

func (h *ObjectHandler) getChunks(w http.ResponseWriter, r *http.Request, objectID string) {
	chunks, err := h.storage.Chunks().GetByObjectID(r.Context(), objectID)
	if err != nil {
		h.logger.Error().Err(err).Str("object_id", objectID).Msg("Failed to get chunks")
		WriteError(w, http.StatusInternalServerError, "Failed to get chunks")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"chunks": chunks,
		"count":  len(chunks),
	})
}

// deleteObject removes the object, its chunks and embedding links (by
// cascade) and the corresponding vector documents
func (h *ObjectHandler) deleteObject(w http.ResponseWriter, r *http.Request, objectID string) {
	ctx := r.Context()

	obj, err := h.storage.Objects().GetByID(ctx, objectID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to get object")
		return
	}
	if obj == nil {
		WriteError(w, http.StatusNotFound, "Object not found")
		return
	}

	// Collect vector IDs before the cascade wipes the links
	chunks, err := h.storage.Chunks().GetByObjectID(ctx, objectID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to get chunks")
		return
	}
	var vectorIDs []string
	for _, chunk := range chunks {
		link, err := h.storage.Embeddings().GetByChunkID(ctx, chunk.ID, h.embedModel)
		if err != nil {
			h.logger.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to read embedding link")
			continue
		}
		if link != nil {
			vectorIDs = append(vectorIDs, link.VectorID)
		}
	}

	if err := h.storage.Objects().Delete(ctx, objectID); err != nil {
		h.logger.Error().Err(err).Str("object_id", objectID).Msg("Failed to delete object")
		WriteError(w, http.StatusInternalServerError, "Failed to delete object")
		return
	}

	if len(vectorIDs) > 0 {
		if err := h.vectors.DeleteDocumentsByIds(ctx, vectorIDs); err != nil {
			// The relational rows are gone; orphaned vectors only cost space
			h.logger.Warn().Err(err).Str("object_id", objectID).Msg("Failed to delete vectors for object")
		}
	}

	h.logger.Info().
		Str("object_id", objectID).
		Int("vectors_deleted", len(vectorIDs)).
		Msg("Object deleted")
	WriteSuccess(w, "Object deleted")
}
