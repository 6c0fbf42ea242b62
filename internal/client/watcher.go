package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/dandantas/scout/internal/model"
)

// JobLister lists the caller's jobs
type JobLister interface {
	ActiveJobs(ctx context.Context, recent bool) ([]model.JobSummary, error)
}

// WatcherOptions configures an ActiveJobWatcher
type WatcherOptions struct {
	// FastInterval is used while any job is running
	FastInterval time.Duration
	// SlowInterval is used otherwise
	SlowInterval time.Duration
	// OnFinished fires once for each job seen running that is now terminal or gone
	OnFinished func(model.JobSummary)
	// OnUpdate receives every successful poll
	OnUpdate func([]model.JobSummary)
}

// ActiveJobWatcher polls the job list and reports jobs that finish.
// Its state is owned by the goroutine calling Run or Poll.
type ActiveJobWatcher struct {
	jobs         JobLister
	opts         WatcherOptions
	knownRunning map[string]bool
	metaByID     map[string]model.JobSummary
}

// NewActiveJobWatcher creates a watcher
func NewActiveJobWatcher(jobs JobLister, opts WatcherOptions) *ActiveJobWatcher {
	if opts.FastInterval <= 0 {
		opts.FastInterval = 3 * time.Second
	}
	if opts.SlowInterval <= 0 {
		opts.SlowInterval = 30 * time.Second
	}
	return &ActiveJobWatcher{
		jobs:         jobs,
		opts:         opts,
		knownRunning: make(map[string]bool),
		metaByID:     make(map[string]model.JobSummary),
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and retried at
// the slow interval.
func (w *ActiveJobWatcher) Run(ctx context.Context) error {
	for {
		interval := w.opts.SlowInterval
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Debug("Active job poll failed", "error", err)
		} else if len(w.knownRunning) > 0 {
			interval = w.opts.FastInterval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Poll fetches the job list once and fires OnFinished for jobs that left
// the running state since the previous poll
func (w *ActiveJobWatcher) Poll(ctx context.Context) ([]model.JobSummary, error) {
	jobs, err := w.jobs.ActiveJobs(ctx, true)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		seen[job.ID] = true
		w.metaByID[job.ID] = job

		if job.Status == model.JobRunning {
			w.knownRunning[job.ID] = true
			continue
		}
		if w.knownRunning[job.ID] {
			delete(w.knownRunning, job.ID)
			w.finished(job)
		}
	}

	for id := range w.knownRunning {
		if seen[id] {
			continue
		}
		// Gone from the recent window: report it with the last known state.
		delete(w.knownRunning, id)
		w.finished(w.metaByID[id])
	}
	for id := range w.metaByID {
		if !seen[id] {
			delete(w.metaByID, id)
		}
	}

	if w.opts.OnUpdate != nil {
		w.opts.OnUpdate(jobs)
	}
	return jobs, nil
}

// Running reports the ids currently known to be running
func (w *ActiveJobWatcher) Running() []string {
	ids := make([]string, 0, len(w.knownRunning))
	for id := range w.knownRunning {
		ids = append(ids, id)
	}
	return ids
}

func (w *ActiveJobWatcher) finished(job model.JobSummary) {
	if w.opts.OnFinished != nil {
		w.opts.OnFinished(job)
	}
}
