package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/transport"
)

// Opener opens the progress stream once a start request has been accepted
type Opener func() (transport.Emitter, error)

// PipelineService validates start requests and runs pipelines detached from
// the request that started them
type PipelineService struct {
	registry  *pipeline.Registry
	directory directory.Directory
	tracker   *jobstore.Tracker
	engine    *pipeline.Engine
	timeout   time.Duration
	now       func() time.Time

	runs sync.WaitGroup
}

// NewPipelineService creates a pipeline service. timeout bounds each run.
func NewPipelineService(registry *pipeline.Registry, dir directory.Directory, tracker *jobstore.Tracker, engine *pipeline.Engine, timeout time.Duration) *PipelineService {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &PipelineService{
		registry:  registry,
		directory: dir,
		tracker:   tracker,
		engine:    engine,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start validates the request, opens the stream and launches the pipeline.
//
// Rejections happen in order (unauthenticated, invalid type, missing location,
// role, unknown location) and before open is called. A setup failure is
// reported as an error event on the opened stream and creates no job.
// The returned job keeps running after ctx is cancelled.
func (s *PipelineService) Start(ctx context.Context, p *auth.Principal, rawType, locationID string, open Opener) (*model.Job, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	pipelineType, err := model.ParsePipelineType(rawType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, rawType)
	}
	launcher, ok := s.registry.Get(pipelineType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, rawType)
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, ErrMissingLocation
	}
	if !p.CanRunPipelines() {
		return nil, ErrForbidden
	}
	if err := s.checkLocation(ctx, p.TenantID, locationID); err != nil {
		return nil, err
	}

	em, err := open()
	if err != nil {
		return nil, err
	}

	log := slog.With("tenant_id", p.TenantID, "location_id", locationID, "pipeline", pipelineType)
	req := pipeline.Request{
		TenantID:   p.TenantID,
		LocationID: locationID,
		Type:       pipelineType,
		Now:        s.now(),
	}

	plan, err := launcher.Prepare(ctx, req)
	if err != nil {
		log.Warn("Pipeline setup failed", "error", err)
		em.Emit(model.EventError, model.ErrorEvent{Message: setupMessage(err)})
		em.Close()
		return nil, err
	}

	job := s.tracker.CreateJob(ctx, p.TenantID, locationID, pipelineType, plan.StepList())
	em.Emit(model.EventInit, model.InitEvent{JobID: job.ID, Steps: job.Steps})
	log.Info("Pipeline started", "job_id", job.ID, "steps", len(plan.Steps), "ephemeral", jobstore.IsEphemeral(job.ID))

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer cancel()
		s.engine.Execute(runCtx, job, plan, em)
	}()

	return job, nil
}

// Wait blocks until every detached run has finished or ctx ends
func (s *PipelineService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PipelineService) checkLocation(ctx context.Context, tenantID, locationID string) error {
	loc, err := s.directory.Location(ctx, locationID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Errorf("location %s: %w", locationID, ErrNotFound)
		}
		return fmt.Errorf("load location: %w", err)
	}
	if loc.TenantID != tenantID {
		return fmt.Errorf("location %s: %w", locationID, ErrNotFound)
	}
	return nil
}

// setupMessage is the user-facing text of a setup failure
func setupMessage(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrNoSteps):
		return pipeline.ErrNoSteps.Error()
	case errors.Is(err, directory.ErrNotFound):
		return "Location or tenant not found"
	default:
		return "Could not prepare pipeline: " + err.Error()
	}
}
