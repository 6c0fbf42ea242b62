package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/transport"
)

// ErrJobGone is reported when a watched job disappears from the store
var ErrJobGone = errors.New("job no longer exists")

// StillRunningMessage is sent when the watcher stops polling a running job
const StillRunningMessage = "Job is still running; reconnect to keep watching"

// JobReader loads job records
type JobReader interface {
	Get(ctx context.Context, jobID string) (*model.Job, error)
}

// Watcher streams the progress of an existing job to a reconnecting client.
// It only reads the job, so any number of watchers converge on the same result.
type Watcher struct {
	jobs     JobReader
	interval time.Duration
	maxPolls int
}

// NewWatcher creates a watcher polling every interval, at most maxPolls times
func NewWatcher(jobs JobReader, interval time.Duration, maxPolls int) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxPolls <= 0 {
		maxPolls = 300
	}
	return &Watcher{jobs: jobs, interval: interval, maxPolls: maxPolls}
}

// Stream replays job to em and follows it until it is terminal.
// em is always closed on return.
func (w *Watcher) Stream(ctx context.Context, job *model.Job, em transport.Emitter) {
	defer em.Close()

	em.Emit(model.EventInit, model.InitEvent{JobID: job.ID, Steps: job.Steps})
	for i, s := range job.Steps {
		if s.Status != model.StepQueued {
			em.Emit(model.EventStep, stepEvent(job, i))
		}
	}
	if job.Status.IsTerminal() {
		emitDone(job, em)
		return
	}

	last := job
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for poll := 0; poll < w.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := w.jobs.Get(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Failed to poll job", "job_id", job.ID, "error", err)
			if jobstore.IsNotFound(err) {
				em.Emit(model.EventError, model.ErrorEvent{Message: ErrJobGone.Error()})
				return
			}
			continue
		}

		for i := range current.Steps {
			if i >= len(last.Steps) || current.Steps[i].Status != last.Steps[i].Status {
				em.Emit(model.EventStep, stepEvent(current, i))
			}
		}
		last = current

		if current.Status.IsTerminal() {
			emitDone(current, em)
			return
		}
	}

	em.Emit(model.EventError, model.ErrorEvent{Message: StillRunningMessage, StillRunning: true})
}

func stepEvent(job *model.Job, i int) model.StepEvent {
	s := job.Steps[i]
	done := i
	if s.Status.IsTerminal() {
		done = i + 1
	}
	return model.StepEvent{
		JobID:    job.ID,
		Index:    i,
		Step:     s,
		Progress: model.StepProgress(done, len(job.Steps)),
	}
}

func emitDone(job *model.Job, em transport.Emitter) {
	result := model.JobResult{}
	if job.Result != nil {
		result = *job.Result
	}
	em.Emit(model.EventDone, model.NewDoneEvent(job.ID, job.Status, result))
}
