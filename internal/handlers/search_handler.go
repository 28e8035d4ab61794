package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// SearchHandler answers similarity queries over the vector store
type SearchHandler struct {
	vectors interfaces.VectorStore
	logger  arbor.ILogger
}

func NewSearchHandler(vectors interfaces.VectorStore) *SearchHandler {
	return &SearchHandler{
		vectors: vectors,
		logger:  common.GetLogger(),
	}
}

// SearchRequest is the POST /api/search payload
type SearchRequest struct {
	Query  string                 `json:"query"`
	K      int                    `json:"k,omitempty"`
	Filter map[string]interface{} `json:"filter,omitempty"`
}

// SearchHandler runs a similarity search and returns scored chunks.
// Accepts GET with q/k query parameters or POST with a JSON body.
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	switch r.Method {
	case "GET":
		req.Query = r.URL.Query().Get("q")
		if raw := r.URL.Query().Get("k"); raw != "" {
			if k, err := strconv.Atoi(raw); err == nil {
				req.K = k
			}
		}
	case "POST":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K <= 0 {
		req.K = 10
	}

	results, err := h.vectors.QuerySimilarByText(r.Context(), req.Query, req.K, req.Filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Search failed")
		WriteError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}
