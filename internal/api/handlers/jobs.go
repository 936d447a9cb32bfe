package handlers

import (
	"net/http"

	"github.com/dvloznov/reconciler/internal/api/middleware"
	"github.com/dvloznov/reconciler/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{jobID}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeServiceError(w, r, h.log, "GetJob", err)
		return
	}
	middleware.WriteData(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		ImportID: query.Get("import_id"),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeServiceError(w, r, h.log, "ListJobs", err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeServiceError(w, r, h.log, "ListJobs", err)
		return
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.log, "ListJobs", err)
		return
	}

	middleware.WriteData(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
