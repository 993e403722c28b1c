package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/envelope-ledger/internal/api/middleware"
	"github.com/dvloznov/envelope-ledger/internal/jobs"
)

// JobsHandler enqueues background work and serves job status.
type JobsHandler struct {
	store     jobs.Store
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(store jobs.Store, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, publisher: publisher, log: log}
}

type syncJobRequest struct {
	Endpoint string `json:"endpoint"`
}

// EnqueueSync handles POST /api/jobs/sync: queues one push/pull cycle
// against the given remote endpoint.
func (h *JobsHandler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req syncJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Endpoint is required")
		return
	}

	job := &jobs.Job{Type: jobs.JobTypeSyncCycle, Endpoint: req.Endpoint}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue sync job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, job)
}

type importJobRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// EnqueueImport handles POST /api/jobs/import: queues a feed import over the
// given date range. Dates are YYYY-MM-DD; both default to open-ended.
func (h *JobsHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req importJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := &jobs.Job{Type: jobs.JobTypeImportFeed}
	if req.StartDate != "" {
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date")
			return
		}
		job.StartDate = &start
	}
	if req.EndDate != "" {
		end, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date")
			return
		}
		job.EndDate = &end
	}

	if err := h.publisher.Publish(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// ListJobs handles GET /api/jobs with optional type, status and limit filters.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.Filter{
		Type:   jobs.JobType(r.URL.Query().Get("type")),
		Status: jobs.JobStatus(r.URL.Query().Get("status")),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = parsed
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}
