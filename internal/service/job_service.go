package service

import (
	"context"
	"fmt"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/transport"
)

// JobService answers job queries scoped to the caller's tenant
type JobService struct {
	tracker *jobstore.Tracker
	watcher *pipeline.Watcher
}

// NewJobService creates a job service
func NewJobService(tracker *jobstore.Tracker, watcher *pipeline.Watcher) *JobService {
	return &JobService{tracker: tracker, watcher: watcher}
}

// Active returns the running jobs of the caller's tenant
func (s *JobService) Active(ctx context.Context, p *auth.Principal) ([]model.JobSummary, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	jobs, err := s.tracker.Active(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	return summaries(jobs), nil
}

// Recent returns running jobs plus jobs that finished within the recent window
func (s *JobService) Recent(ctx context.Context, p *auth.Principal) ([]model.JobSummary, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	jobs, err := s.tracker.Recent(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	return summaries(jobs), nil
}

// Get returns a job of the caller's tenant. Jobs of other tenants are
// reported as not found.
func (s *JobService) Get(ctx context.Context, p *auth.Principal, jobID string) (*model.Job, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	job, err := s.tracker.Get(ctx, jobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, err
	}
	if job.TenantID != p.TenantID {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, nil
}

// Stream replays and follows a job already returned by Get
func (s *JobService) Stream(ctx context.Context, job *model.Job, em transport.Emitter) {
	s.watcher.Stream(ctx, job, em)
}

func summaries(jobs []*model.Job) []model.JobSummary {
	out := make([]model.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ToSummary())
	}
	return out
}
