package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/quota"
	"github.com/ternarybob/vigil/internal/scan"
)

// CreateJobRequest is the POST /api/jobs payload
type CreateJobRequest struct {
	OwnerID string `json:"owner_id" validate:"required,min=1,max=128"`
	Target  string `json:"target" validate:"required,hostname_rfc1123|url"`
}

// JobHandler handles scan job API requests
type JobHandler struct {
	scanService *scan.Service
	validate    *validator.Validate
	logger      arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(scanService *scan.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		scanService: scanService,
		validate:    validator.New(),
		logger:      logger,
	}
}

// CreateJobHandler accepts a new scan request
// POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.logger.Debug().Err(err).Msg("Create job request failed validation")
		WriteError(w, http.StatusBadRequest, "owner_id and a valid target are required")
		return
	}

	job, err := h.scanService.CreateJob(r.Context(), req.OwnerID, req.Target)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExhausted) {
			WriteError(w, http.StatusTooManyRequests, "Scan quota exhausted")
			return
		}
		h.logger.Error().Err(err).Str("target", req.Target).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler returns a paginated list of jobs
// GET /api/jobs?limit=50&offset=0&status=completed&owner=usr_1
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	opts := &interfaces.JobListOptions{
		Status: r.URL.Query().Get("status"),
		Owner:  r.URL.Query().Get("owner"),
		Limit:  QueryInt(r, "limit", 50),
		Offset: QueryInt(r, "offset", 0),
	}

	jobs, err := h.scanService.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetJobHandler returns one job by id
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.scanService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// GetFindingsHandler returns the persisted findings for one job
// GET /api/jobs/{id}/findings
func (h *JobHandler) GetFindingsHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	findings, err := h.scanService.GetFindings(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get findings")
		WriteError(w, http.StatusInternalServerError, "Failed to get findings")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":   jobID,
		"findings": findings,
		"count":    len(findings),
	})
}
