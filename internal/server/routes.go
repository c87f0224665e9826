package server

import (
	"net/http"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - per-job event stream
	mux.HandleFunc("GET /ws/jobs/{id}", s.app.WSHandler.JobEventsHandler)

	// API routes - Scan jobs
	mux.HandleFunc("POST /api/jobs", s.app.JobHandler.CreateJobHandler)
	mux.HandleFunc("GET /api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("GET /api/jobs/{id}", s.app.JobHandler.GetJobHandler)
	mux.HandleFunc("GET /api/jobs/{id}/findings", s.app.JobHandler.GetFindingsHandler)

	// API routes - System
	mux.HandleFunc("GET /api/version", s.versionHandler)
	mux.HandleFunc("GET /api/health", s.healthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "vigil",
		"version": common.GetVersion(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "Not found")
}
