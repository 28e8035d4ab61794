package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (event push)
	if s.app.Config.WebSocket.Enabled {
		mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	}

	// API routes - Jobs (ingestion queue)
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.GetJobStatsHandler)
	mux.HandleFunc("/api/jobs/cleanup", s.app.JobHandler.CleanupJobsHandler)
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.JobRoutesHandler) // GET /{id}, POST /{id}/cancel, POST /{id}/retry

	// API routes - Objects (ingested content)
	mux.HandleFunc("/api/objects", s.app.ObjectHandler.ListObjectsHandler)
	mux.HandleFunc("/api/objects/", s.app.ObjectHandler.ObjectRoutesHandler) // GET/DELETE /{id}, GET /{id}/chunks

	// API routes - Search (vector similarity)
	mux.HandleFunc("/api/search", s.app.SearchHandler.SearchHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute splits /api/jobs between list (GET) and create (POST)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	case "POST":
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
