package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/transport"
)

// TimeoutMessage is the job error recorded when the overall budget runs out
const TimeoutMessage = "Pipeline timed out"

// persistTimeout bounds each progress write made outside the run budget
const persistTimeout = 10 * time.Second

// Tracker records job progress. Implementations are best-effort and never fail the run.
type Tracker interface {
	UpdateStep(ctx context.Context, jobID string, index int, status model.StepStatus, errMsg string)
	Finalize(ctx context.Context, jobID string, status model.JobStatus, result model.JobResult)
}

// Engine executes prepared plans step by step
type Engine struct {
	tracker Tracker
	logger  *slog.Logger
}

// NewEngine creates an engine persisting progress through tracker
func NewEngine(tracker Tracker) *Engine {
	return &Engine{
		tracker: tracker,
		logger:  slog.Default(),
	}
}

// Execute runs every step of plan in order for job and streams progress to em.
// The job is finalized, a done event is emitted and em is closed on every exit
// path, including panics in step bodies and expiry of ctx.
func (e *Engine) Execute(ctx context.Context, job *model.Job, plan *Plan, em transport.Emitter) (result model.JobResult) {
	log := e.logger.With("job_id", job.ID, "pipeline", plan.Type, "location_id", job.LocationID)
	run := NewRun(job.ID, e.logger)
	run.emit = em.Emit

	total := len(plan.Steps)
	status := model.JobCompleted
	var failure string
	start := time.Now()

	defer func() {
		fctx, cancel := detached(ctx)
		defer cancel()

		result = model.JobResult{
			Warnings:    run.Warnings(),
			RedirectURL: plan.RedirectURL,
			Error:       failure,
		}
		e.tracker.Finalize(fctx, job.ID, status, result)
		em.Emit(model.EventDone, model.NewDoneEvent(job.ID, status, result))
		em.Close()

		log.Info("Pipeline finished",
			"status", status,
			"warnings", len(result.Warnings),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			status = model.JobFailed
			failure = TimeoutMessage
			log.Warn("Pipeline budget exhausted before step", "step", step.Name)
			return
		}

		e.recordStep(ctx, job.ID, i, model.StepRunning, "")
		em.Emit(model.EventStep, model.StepEvent{
			JobID:    job.ID,
			Index:    i,
			Step:     model.Step{Name: step.Name, Label: step.Label, Status: model.StepRunning},
			Progress: model.StepProgress(i, total),
		})

		stepStart := time.Now()
		err := e.runStep(ctx, step, run)

		if err == nil {
			e.recordStep(ctx, job.ID, i, model.StepComplete, "")
			em.Emit(model.EventStep, model.StepEvent{
				JobID:    job.ID,
				Index:    i,
				Step:     model.Step{Name: step.Name, Label: step.Label, Status: model.StepComplete},
				Progress: model.StepProgress(i+1, total),
			})
			log.Debug("Step complete", "step", step.Name, "duration_ms", time.Since(stepStart).Milliseconds())
			continue
		}

		var pe *panicError
		panicked := errors.As(err, &pe)
		expired := ctx.Err() != nil

		msg := WarningFor(step.Label, err)
		if expired && !panicked {
			msg = TimeoutMessage
		}

		e.recordStep(ctx, job.ID, i, model.StepFailed, msg)
		em.Emit(model.EventStep, model.StepEvent{
			JobID:    job.ID,
			Index:    i,
			Step:     model.Step{Name: step.Name, Label: step.Label, Status: model.StepFailed, Error: msg},
			Progress: model.StepProgress(i+1, total),
		})

		if step.Policy == Continue && !panicked && !expired {
			run.Warn(msg)
			log.Warn("Step failed, continuing", "step", step.Name, "error", err)
			continue
		}

		status = model.JobFailed
		failure = msg
		log.Error("Step failed, aborting pipeline", "step", step.Name, "policy", step.Policy, "error", err)
		return
	}

	return
}

// recordStep persists a step transition even when the budget has expired,
// so a terminal job never keeps a step in running.
func (e *Engine) recordStep(ctx context.Context, jobID string, index int, status model.StepStatus, errMsg string) {
	pctx, cancel := detached(ctx)
	defer cancel()
	e.tracker.UpdateStep(pctx, jobID, index, status, errMsg)
}

// detached keeps ctx values but not its deadline or cancellation
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// runStep invokes the step body, converting a panic into an error
func (e *Engine) runStep(ctx context.Context, step BoundStep, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Step panicked",
				"job_id", run.JobID,
				"step", step.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = &panicError{value: r}
		}
	}()
	return step.Run(ctx, run)
}
