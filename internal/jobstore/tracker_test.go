package jobstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/scout/internal/model"
)

// brokenStore fails every call
type brokenStore struct{}

var errDown = errors.New("store down")

func (brokenStore) Create(context.Context, *model.Job) error { return errDown }
func (brokenStore) Get(context.Context, string) (*model.Job, error) {
	return nil, errDown
}
func (brokenStore) UpdateStep(context.Context, string, int, model.StepStatus, string) error {
	return errDown
}
func (brokenStore) Finalize(context.Context, string, model.JobStatus, model.JobResult) error {
	return errDown
}
func (brokenStore) ListActive(context.Context, string) ([]*model.Job, error) {
	return nil, errDown
}
func (brokenStore) ListRecent(context.Context, string, time.Time) ([]*model.Job, error) {
	return nil, errDown
}
func (brokenStore) MarkStale(context.Context, string, time.Time, string) (bool, error) {
	return false, errDown
}

func TestTrackerDegradesToEphemeral(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(brokenStore{}, TrackerOptions{})

	job := tr.CreateJob(ctx, "t1", "loc-1", model.PipelineWeather, testSteps(1))
	if !strings.HasPrefix(job.ID, EphemeralPrefix) || !job.Ephemeral {
		t.Fatalf("expected ephemeral job, got %q", job.ID)
	}

	tr.UpdateStep(ctx, job.ID, 0, model.StepRunning, "")
	tr.UpdateStep(ctx, job.ID, 0, model.StepComplete, "")
	tr.Finalize(ctx, job.ID, model.JobCompleted, model.JobResult{})

	got, err := tr.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.JobCompleted || got.Steps[0].Status != model.StepComplete {
		t.Fatalf("ephemeral job not tracked: %+v", got)
	}

	active, err := tr.Recent(ctx, "t1")
	if err != nil {
		t.Fatalf("Recent should tolerate a broken durable store: %v", err)
	}
	if len(active) != 1 || !active[0].Ephemeral {
		t.Fatalf("recent = %v", ids(active))
	}
}

func TestTrackerWritesAreBestEffort(t *testing.T) {
	ctx := context.Background()
	durable := NewMemoryStore()
	tr := NewTracker(durable, TrackerOptions{})

	job := tr.CreateJob(ctx, "t1", "loc-1", model.PipelineEvents, testSteps(2))
	if job.Ephemeral {
		t.Fatal("expected durable job")
	}

	// Illegal transitions are logged, not returned.
	tr.UpdateStep(ctx, job.ID, 1, model.StepComplete, "")
	tr.Finalize(ctx, "missing", model.JobFailed, model.JobResult{})

	stored, err := durable.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Steps[1].Status != model.StepQueued {
		t.Fatalf("illegal transition applied: %s", stored.Steps[1].Status)
	}
}

func TestTrackerReapsStaleJobs(t *testing.T) {
	ctx := context.Background()
	durable := NewMemoryStore()
	tr := NewTracker(durable, TrackerOptions{StaleAfter: time.Minute})

	job := tr.CreateJob(ctx, "t1", "loc-1", model.PipelineInsights, testSteps(1))
	fresh := tr.CreateJob(ctx, "t1", "loc-1", model.PipelinePhotos, testSteps(1))

	later := time.Now().UTC().Add(10 * time.Minute)
	tr.now = func() time.Time { return later }
	durable.now = tr.now
	// Keep the second job fresh relative to the shifted clock.
	durable.mu.Lock()
	durable.jobs[fresh.ID].UpdatedAt = later
	durable.mu.Unlock()

	active, err := tr.Active(ctx, "t1")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Fatalf("active = %v", ids(active))
	}

	reaped, _ := tr.Get(ctx, job.ID)
	if reaped.Status != model.JobFailed || reaped.Result.Error != StaleReason {
		t.Fatalf("stale job not reaped: %+v", reaped)
	}
}

func TestTrackerWithoutDurableStore(t *testing.T) {
	tr := NewTracker(nil, TrackerOptions{})
	job := tr.CreateJob(context.Background(), "t1", "loc-1", model.PipelineContent, testSteps(1))
	if !IsEphemeral(job.ID) {
		t.Fatalf("expected ephemeral id, got %q", job.ID)
	}
	if _, err := tr.Get(context.Background(), "nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrackerPrunesFinishedInMemoryJobs(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(nil, TrackerOptions{RecentWindow: time.Minute, Retention: 10 * time.Minute})

	done := tr.CreateJob(ctx, "t1", "loc-1", model.PipelineWeather, testSteps(1))
	tr.UpdateStep(ctx, done.ID, 0, model.StepRunning, "")
	tr.UpdateStep(ctx, done.ID, 0, model.StepComplete, "")
	tr.Finalize(ctx, done.ID, model.JobCompleted, model.JobResult{Warnings: []string{}})
	running := tr.CreateJob(ctx, "t1", "loc-1", model.PipelineContent, testSteps(1))

	// Still readable inside the retention window.
	if _, err := tr.Recent(ctx, "t1"); err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if _, err := tr.Get(ctx, done.ID); err != nil {
		t.Fatalf("finished job pruned too early: %v", err)
	}

	later := time.Now().UTC().Add(30 * time.Minute)
	tr.now = func() time.Time { return later }
	tr.ephemeral.mu.Lock()
	tr.ephemeral.jobs[running.ID].UpdatedAt = later
	tr.ephemeral.mu.Unlock()

	if _, err := tr.Active(ctx, "t1"); err != nil {
		t.Fatalf("Active: %v", err)
	}
	if _, err := tr.Get(ctx, done.ID); !IsNotFound(err) {
		t.Errorf("finished job should be pruned, got %v", err)
	}
	if _, err := tr.Get(ctx, running.ID); err != nil {
		t.Errorf("running job must survive pruning: %v", err)
	}
}

func TestNewTrackerRetentionCoversRecentWindow(t *testing.T) {
	tr := NewTracker(nil, TrackerOptions{RecentWindow: 5 * time.Minute, Retention: time.Minute})
	if tr.opts.Retention != 5*time.Minute {
		t.Errorf("retention = %s, want the recent window", tr.opts.Retention)
	}
	if tr := NewTracker(nil, TrackerOptions{}); tr.opts.Retention != time.Hour {
		t.Errorf("default retention = %s", tr.opts.Retention)
	}
}
