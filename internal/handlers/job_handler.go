package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// JobHandler exposes the ingestion queue over HTTP
type JobHandler struct {
	queue  interfaces.QueueService
	jobs   interfaces.JobRepository
	logger arbor.ILogger
}

func NewJobHandler(queue interfaces.QueueService, jobs interfaces.JobRepository) *JobHandler {
	return &JobHandler{
		queue:  queue,
		jobs:   jobs,
		logger: common.GetLogger(),
	}
}

// CreateJobRequest is the POST /api/jobs payload
type CreateJobRequest struct {
	JobType          models.JobType  `json:"job_type"`
	SourceIdentifier string          `json:"source_identifier"`
	OriginalFileName string          `json:"original_file_name,omitempty"`
	Priority         int             `json:"priority,omitempty"`
	JobSpecificData  json.RawMessage `json:"job_specific_data,omitempty"`
}

// CreateJobHandler enqueues a new ingestion job
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.JobType == "" || req.SourceIdentifier == "" {
		WriteError(w, http.StatusBadRequest, "job_type and source_identifier are required")
		return
	}

	job, err := h.queue.Enqueue(r.Context(), req.JobType, req.SourceIdentifier, &models.JobOptions{
		OriginalFileName: req.OriginalFileName,
		Priority:         req.Priority,
		JobSpecificData:  req.JobSpecificData,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("job_type", string(req.JobType)).Msg("Failed to enqueue job")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler returns jobs filtered by status and type, newest first
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.JobListOptions{
		Status:  r.URL.Query().Get("status"),
		JobType: r.URL.Query().Get("type"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}

	jobs, err := h.jobs.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobStatsHandler returns job counts by status
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get job stats")
		WriteError(w, http.StatusInternalServerError, "Failed to get job stats")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  stats,
		"active": stats.Active(),
	})
}

// JobRoutesHandler dispatches /api/jobs/{id} and its subpaths
func (h *JobHandler) JobRoutesHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Job ID required")
		return
	}
	jobID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == "GET":
		h.getJob(w, r, jobID)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == "POST":
		h.cancelJob(w, r, jobID)
	case len(parts) == 2 && parts[1] == "retry" && r.Method == "POST":
		h.retryJob(w, r, jobID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	cancelled, err := h.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}
	if !cancelled {
		WriteError(w, http.StatusConflict, "Job is not in a cancellable state")
		return
	}
	WriteSuccess(w, "Job cancelled")
}

func (h *JobHandler) retryJob(w http.ResponseWriter, r *http.Request, jobID string) {
	requeued, err := h.queue.Requeue(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to requeue job")
		WriteError(w, http.StatusInternalServerError, "Failed to requeue job")
		return
	}
	if !requeued {
		WriteError(w, http.StatusConflict, "Job is not in a retryable state")
		return
	}
	WriteSuccess(w, "Job requeued")
}

// CleanupJobsHandler deletes terminal jobs older than the given retention.
// Accepts DELETE with a days query parameter or POST with a JSON body.
func (h *JobHandler) CleanupJobsHandler(w http.ResponseWriter, r *http.Request) {
	var days int
	switch r.Method {
	case "DELETE":
		days = queryInt(r, "days", 0)
	case "POST":
		var req struct {
			Days int `json:"days"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		days = req.Days
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deleted, err := h.jobs.CleanupOldJobs(r.Context(), days)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"deleted": deleted,
	})
}

// queryInt reads an integer query parameter with a default
func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return def
}
