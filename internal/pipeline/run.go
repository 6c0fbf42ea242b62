package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dandantas/scout/internal/model"
)

// Run is the per-execution scope handed to step bodies.
// It is safe for concurrent use by fan-out goroutines.
type Run struct {
	JobID  string
	Logger *slog.Logger

	mu       sync.Mutex
	warnings []string
	emit     func(event string, payload any)
}

// NewRun creates a run scope for a job
func NewRun(jobID string, logger *slog.Logger) *Run {
	if logger == nil {
		logger = slog.Default()
	}
	return &Run{
		JobID:  jobID,
		Logger: logger.With("job_id", jobID),
	}
}

// Warn records a non-fatal, user-facing warning
func (r *Run) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

// Warnf records a formatted warning
func (r *Run) Warnf(format string, args ...any) {
	r.Warn(fmt.Sprintf(format, args...))
}

// Warnings returns a copy of the warnings recorded so far
func (r *Run) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Card pushes an ambient card to the live stream. Cards are not persisted.
func (r *Run) Card(card model.AmbientCard) {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	if emit != nil {
		emit(model.EventCard, card)
	}
}
