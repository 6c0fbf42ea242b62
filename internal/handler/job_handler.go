package handler

import (
	"net/http"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/service"
	"github.com/dandantas/scout/internal/transport"
	"github.com/dandantas/scout/pkg/middleware"
	"github.com/go-chi/chi/v5"
)

// JobHandler serves job queries and reconnect streams
type JobHandler struct {
	service *service.JobService
}

// NewJobHandler creates a new job handler
func NewJobHandler(svc *service.JobService) *JobHandler {
	return &JobHandler{service: svc}
}

// JobsResponse lists job summaries
type JobsResponse struct {
	Jobs []model.JobSummary `json:"jobs"`
}

// Active handles GET /api/v1/jobs/active[?recent=true].
// It always answers 200; callers without a principal or a failing store get
// an empty list.
func (h *JobHandler) Active(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	p, _ := auth.FromContext(r.Context())

	var (
		jobs []model.JobSummary
		err  error
	)
	if parseQueryBool(r, "recent") {
		jobs, err = h.service.Recent(r.Context(), p)
	} else {
		jobs, err = h.service.Active(r.Context(), p)
	}
	if err != nil {
		middleware.Logger(r.Context()).Debug("Listing jobs failed", "error", err)
		jobs = []model.JobSummary{}
	}
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

// Get handles GET /api/v1/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	job, err := h.service.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, job)
}

// Stream handles GET /api/v1/jobs/{id}/stream. Unknown and foreign jobs are
// rejected before the stream opens.
func (h *JobHandler) Stream(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	job, err := h.service.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ch, err := transport.Open(w)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.service.Stream(r.Context(), job, ch)
	waitStream(r, ch)
}
