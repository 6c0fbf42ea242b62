// Package jobstore persists pipeline job records and degrades to process-local
// tracking when durable storage is unavailable.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/dandantas/scout/internal/model"
)

var (
	// ErrNotFound is returned when no job matches the id
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for an illegal step or job transition
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrTerminal is returned when finalizing a job already in a different terminal state
	ErrTerminal = errors.New("job already finalized")
)

// Store is durable CRUD for job records.
// A job id is written by exactly one execution, so implementations only need
// per-call atomicity, not cross-writer coordination.
type Store interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
	UpdateStep(ctx context.Context, jobID string, index int, status model.StepStatus, errMsg string) error
	Finalize(ctx context.Context, jobID string, status model.JobStatus, result model.JobResult) error
	ListActive(ctx context.Context, tenantID string) ([]*model.Job, error)
	ListRecent(ctx context.Context, tenantID string, since time.Time) ([]*model.Job, error)
	// MarkStale fails a running job whose last update is before the cutoff.
	// It reports whether the job was changed.
	MarkStale(ctx context.Context, jobID string, before time.Time, reason string) (bool, error)
}

// CheckFinalize reports whether a Finalize should be applied. Re-finalizing
// with the same terminal status is a no-op; a different one is ErrTerminal.
func CheckFinalize(current model.JobStatus, status model.JobStatus) (apply bool, err error) {
	if !status.IsTerminal() {
		return false, ErrInvalidTransition
	}
	if current == model.JobRunning {
		return true, nil
	}
	if current == status {
		return false, nil
	}
	return false, ErrTerminal
}
