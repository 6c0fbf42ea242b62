package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/service"
	"github.com/dandantas/scout/internal/transport"
	"github.com/dandantas/scout/pkg/middleware"
)

// maxStartBody bounds the start request body
const maxStartBody = 4 << 10

// PipelineHandler starts pipelines and streams their progress
type PipelineHandler struct {
	service *service.PipelineService
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(svc *service.PipelineService) *PipelineHandler {
	return &PipelineHandler{service: svc}
}

// StartRequest is the body of a start request
type StartRequest struct {
	Type       string `json:"type"`
	LocationID string `json:"location_id"`
}

// Start handles POST /api/v1/pipelines. Query parameters fill fields missing
// from the body. The response is an event stream once the request is accepted.
func (h *PipelineHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, maxStartBody)).Decode(&req)
		if err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}
	if req.Type == "" {
		req.Type = r.URL.Query().Get("type")
	}
	if req.LocationID == "" {
		req.LocationID = r.URL.Query().Get("location_id")
	}

	p, _ := auth.FromContext(r.Context())

	var ch *transport.Channel
	open := func() (transport.Emitter, error) {
		c, err := transport.Open(w)
		if err != nil {
			return nil, err
		}
		ch = c
		return c, nil
	}

	job, err := h.service.Start(r.Context(), p, req.Type, req.LocationID, open)
	if ch == nil {
		writeServiceError(w, err)
		return
	}
	if job != nil {
		middleware.Logger(r.Context()).Info("Streaming pipeline", "job_id", job.ID)
	}
	waitStream(r, ch)
}
