package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/scout/internal/model"
)

// MemoryStore is an in-memory store for job records
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new job
func (s *MemoryStore) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a copy of a job
func (s *MemoryStore) Get(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// UpdateStep applies one step transition
func (s *MemoryStore) UpdateStep(_ context.Context, jobID string, index int, status model.StepStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return ErrNotFound
	}
	if err := job.ApplyStep(index, status, errMsg, s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return nil
}

// Finalize sets the terminal status and result
func (s *MemoryStore) Finalize(_ context.Context, jobID string, status model.JobStatus, result model.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return ErrNotFound
	}
	apply, err := CheckFinalize(job.Status, status)
	if err != nil || !apply {
		return err
	}
	job.Status = status
	r := result
	r.Warnings = append([]string{}, result.Warnings...)
	job.Result = &r
	job.UpdatedAt = s.now()
	return nil
}

// ListActive returns running jobs for the tenant, newest first
func (s *MemoryStore) ListActive(_ context.Context, tenantID string) ([]*model.Job, error) {
	return s.filter(func(j *model.Job) bool {
		return j.TenantID == tenantID && j.Status == model.JobRunning
	}), nil
}

// ListRecent returns running jobs plus jobs finished since the cutoff
func (s *MemoryStore) ListRecent(_ context.Context, tenantID string, since time.Time) ([]*model.Job, error) {
	return s.filter(func(j *model.Job) bool {
		if j.TenantID != tenantID {
			return false
		}
		return j.Status == model.JobRunning || !j.UpdatedAt.Before(since)
	}), nil
}

// MarkStale fails a running job that has not progressed since before
func (s *MemoryStore) MarkStale(_ context.Context, jobID string, before time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return false, ErrNotFound
	}
	if job.Status != model.JobRunning || !job.UpdatedAt.Before(before) {
		return false, nil
	}
	job.Status = model.JobFailed
	job.Result = &model.JobResult{Warnings: []string{}, Error: reason}
	job.UpdatedAt = s.now()
	return true, nil
}

// PruneFinished removes terminal jobs last updated before the cutoff and
// returns how many were removed. Running jobs are never pruned.
func (s *MemoryStore) PruneFinished(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) filter(keep func(*model.Job) bool) []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*model.Job, 0)
	for _, job := range s.jobs {
		if keep(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs
}
