package handler

import (
	"net/http"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/pkg/middleware"
	"github.com/go-chi/chi/v5"
)

// Router handles HTTP routing
type Router struct {
	pipelineHandler *PipelineHandler
	jobHandler      *JobHandler
	feedHandler     *FeedHandler
	healthHandler   *HealthHandler
	resolver        auth.Resolver
	corsConfig      middleware.CORSConfig
}

// NewRouter creates a new router
func NewRouter(
	pipelineHandler *PipelineHandler,
	jobHandler *JobHandler,
	feedHandler *FeedHandler,
	healthHandler *HealthHandler,
	resolver auth.Resolver,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		pipelineHandler: pipelineHandler,
		jobHandler:      jobHandler,
		feedHandler:     feedHandler,
		healthHandler:   healthHandler,
		resolver:        resolver,
		corsConfig:      corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	// Outermost first; CORS answers preflight before auth runs.
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(rt.corsConfig))

	r.Get("/health", rt.healthHandler.Health)
	r.Get("/ready", rt.healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(rt.resolver))

		r.Post("/pipelines", rt.pipelineHandler.Start)
		r.Get("/jobs/active", rt.jobHandler.Active)
		r.Get("/jobs/{id}", rt.jobHandler.Get)
		r.Get("/jobs/{id}/stream", rt.jobHandler.Stream)
		r.Get("/locations/{id}/feed", rt.feedHandler.Stream)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}
