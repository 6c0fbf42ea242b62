package handler

import (
	"errors"
	"net/http"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/feed"
	"github.com/dandantas/scout/internal/service"
	"github.com/dandantas/scout/internal/transport"
	"github.com/go-chi/chi/v5"
)

// FeedHandler streams the ambient feed of a location
type FeedHandler struct {
	feed *feed.Service
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(svc *feed.Service) *FeedHandler {
	return &FeedHandler{feed: svc}
}

// Stream handles GET /api/v1/locations/{id}/feed
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeServiceError(w, service.ErrUnauthenticated)
		return
	}
	loc, err := h.feed.Location(r.Context(), p.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			err = service.ErrNotFound
		}
		writeServiceError(w, err)
		return
	}

	ch, err := transport.Open(w)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.feed.Stream(r.Context(), loc, ch)
	waitStream(r, ch)
}
