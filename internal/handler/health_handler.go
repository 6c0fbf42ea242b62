package handler

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Pinger is a dependency whose liveness is reported by the health endpoints
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	deps      map[string]Pinger
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler over named dependencies
func NewHealthHandler(deps map[string]Pinger, version string) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Timestamp     string            `json:"timestamp"`
	Dependencies  map[string]string `json:"dependencies"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready        bool              `json:"ready"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health returns the service health status. It is 200 while the process runs.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	statuses, _ := h.check(r.Context())
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Dependencies:  statuses,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready returns 503 while any dependency is unreachable
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	statuses, ready := h.check(r.Context())
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, ReadyResponse{Ready: ready, Dependencies: statuses})
}

func (h *HealthHandler) check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	statuses := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.deps[name].Ping(ctx); err != nil {
			statuses[name] = "disconnected"
			ready = false
			continue
		}
		statuses[name] = "connected"
	}
	return statuses, ready
}
