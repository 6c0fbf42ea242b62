package jobstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/scout/internal/model"
	"github.com/google/uuid"
)

// EphemeralPrefix marks job ids that only exist in process memory
const EphemeralPrefix = "ephemeral-"

// StaleReason is recorded on jobs reaped by the stale-job policy
const StaleReason = "job stalled with no progress"

// TrackerOptions configures read-path windows
type TrackerOptions struct {
	RecentWindow time.Duration
	StaleAfter   time.Duration
	// Retention is how long finished in-memory jobs stay readable.
	// Never shorter than RecentWindow.
	Retention time.Duration
}

// Tracker is the job store used by pipelines. Writes are best-effort: durable
// failures are logged and never surface to the caller, and a failed create
// falls back to an ephemeral in-memory job.
type Tracker struct {
	durable   Store
	ephemeral *MemoryStore
	opts      TrackerOptions
	now       func() time.Time
}

// NewTracker creates a tracker over a durable store. A nil durable store runs
// every job in ephemeral mode.
func NewTracker(durable Store, opts TrackerOptions) *Tracker {
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 2 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.Retention < opts.RecentWindow {
		opts.Retention = opts.RecentWindow
	}
	return &Tracker{
		durable:   durable,
		ephemeral: NewMemoryStore(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IsEphemeral reports whether a job id was synthesized after a failed create
func IsEphemeral(jobID string) bool {
	return strings.HasPrefix(jobID, EphemeralPrefix)
}

// CreateJob records a new running job with every step queued. It never fails.
func (t *Tracker) CreateJob(ctx context.Context, tenantID, locationID string, pipelineType model.PipelineType, steps []model.Step) *model.Job {
	now := t.now()
	job := model.NewJob(uuid.New().String(), tenantID, locationID, pipelineType, steps, now)

	if t.durable != nil {
		err := t.durable.Create(ctx, job)
		if err == nil {
			return job
		}
		slog.Warn("Job store unavailable, continuing with ephemeral job",
			"tenant_id", tenantID,
			"location_id", locationID,
			"pipeline", pipelineType,
			"error", err,
		)
	}

	job.ID = EphemeralPrefix + uuid.New().String()
	job.Ephemeral = true
	if err := t.ephemeral.Create(ctx, job); err != nil {
		slog.Error("Failed to track ephemeral job", "job_id", job.ID, "error", err)
	}
	return job
}

// UpdateStep records a step transition
func (t *Tracker) UpdateStep(ctx context.Context, jobID string, index int, status model.StepStatus, errMsg string) {
	if err := t.storeFor(jobID).UpdateStep(ctx, jobID, index, status, errMsg); err != nil {
		slog.Warn("Failed to persist step update",
			"job_id", jobID,
			"step_index", index,
			"status", status,
			"error", err,
		)
	}
}

// Finalize records the terminal status and result
func (t *Tracker) Finalize(ctx context.Context, jobID string, status model.JobStatus, result model.JobResult) {
	if err := t.storeFor(jobID).Finalize(ctx, jobID, status, result); err != nil {
		slog.Warn("Failed to persist job result",
			"job_id", jobID,
			"status", status,
			"error", err,
		)
	}
}

// Get reads a job from whichever store owns it
func (t *Tracker) Get(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := t.storeFor(jobID).Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if IsEphemeral(jobID) {
		job.Ephemeral = true
	}
	return job, nil
}

// Active returns the tenant's running jobs. Stale jobs are reaped first.
func (t *Tracker) Active(ctx context.Context, tenantID string) ([]*model.Job, error) {
	jobs, err := t.collect(ctx, tenantID, func(s Store) ([]*model.Job, error) {
		return s.ListActive(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	active := jobs[:0]
	for _, job := range t.reap(ctx, jobs) {
		if job.Status == model.JobRunning {
			active = append(active, job)
		}
	}
	return active, nil
}

// Recent returns running jobs plus jobs that finished within the recent window
func (t *Tracker) Recent(ctx context.Context, tenantID string) ([]*model.Job, error) {
	since := t.now().Add(-t.opts.RecentWindow)
	jobs, err := t.collect(ctx, tenantID, func(s Store) ([]*model.Job, error) {
		return s.ListRecent(ctx, tenantID, since)
	})
	if err != nil {
		return nil, err
	}
	return t.reap(ctx, jobs), nil
}

func (t *Tracker) collect(ctx context.Context, tenantID string, list func(Store) ([]*model.Job, error)) ([]*model.Job, error) {
	t.prune()
	var jobs []*model.Job
	var durableErr error
	if t.durable != nil {
		jobs, durableErr = list(t.durable)
	}
	ephemeral, _ := list(t.ephemeral)
	for _, job := range ephemeral {
		job.Ephemeral = true
	}
	jobs = append(jobs, ephemeral...)
	if durableErr != nil && len(jobs) == 0 {
		return nil, durableErr
	}
	if durableErr != nil {
		slog.Warn("Durable job listing failed, returning ephemeral jobs only",
			"tenant_id", tenantID,
			"error", durableErr,
		)
	}
	return jobs, nil
}

// prune drops finished in-memory jobs past the retention window so the
// process-local store stays bounded
func (t *Tracker) prune() {
	if n := t.ephemeral.PruneFinished(t.now().Add(-t.opts.Retention)); n > 0 {
		slog.Debug("Pruned finished in-memory jobs", "count", n)
	}
}

// reap fails running jobs that have made no progress within StaleAfter
func (t *Tracker) reap(ctx context.Context, jobs []*model.Job) []*model.Job {
	cutoff := t.now().Add(-t.opts.StaleAfter)
	for _, job := range jobs {
		if job.Status != model.JobRunning || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		changed, err := t.storeFor(job.ID).MarkStale(ctx, job.ID, cutoff, StaleReason)
		if err != nil {
			slog.Warn("Failed to reap stale job", "job_id", job.ID, "error", err)
			continue
		}
		if changed {
			slog.Info("Reaped stale job", "job_id", job.ID, "updated_at", job.UpdatedAt)
			job.Status = model.JobFailed
			job.Result = &model.JobResult{Warnings: []string{}, Error: StaleReason}
		}
	}
	return jobs
}

func (t *Tracker) storeFor(jobID string) Store {
	if IsEphemeral(jobID) || t.durable == nil {
		return t.ephemeral
	}
	return t.durable
}

// IsNotFound reports whether err means the job does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
