package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dandantas/scout/internal/model"
)

// Launcher prepares runnable plans for one pipeline type
type Launcher interface {
	Type() model.PipelineType
	Prepare(ctx context.Context, req Request) (*Plan, error)
}

// Definition declares a pipeline: a context builder and an ordered step list
type Definition[C any] struct {
	PipelineType model.PipelineType
	Build        func(ctx context.Context, req Request) (*C, error)
	Steps        func(c *C) []Step[C]
	Redirect     func(req Request) string
}

var _ Launcher = (*Definition[struct{}])(nil)

func (d *Definition[C]) Type() model.PipelineType {
	return d.PipelineType
}

// Prepare builds the context and binds the steps to it
func (d *Definition[C]) Prepare(ctx context.Context, req Request) (*Plan, error) {
	req.Type = d.PipelineType
	c, err := d.Build(ctx, req)
	if err != nil {
		if IsSetupError(err) {
			return nil, err
		}
		return nil, &SetupError{Err: err}
	}

	steps := d.Steps(c)
	if len(steps) == 0 {
		return nil, &SetupError{Err: ErrNoSteps}
	}

	plan := &Plan{
		Type:    d.PipelineType,
		Request: req,
		Steps:   make([]BoundStep, len(steps)),
	}
	for i, s := range steps {
		run := s.Run
		plan.Steps[i] = BoundStep{
			Name:   s.Name,
			Label:  s.Label,
			Policy: s.Policy,
			Run: func(ctx context.Context, r *Run) error {
				return run(ctx, c, r)
			},
		}
	}
	if d.Redirect != nil {
		plan.RedirectURL = d.Redirect(req)
	}
	return plan, nil
}

// Composite runs the steps of several pipelines as one job. Step names are
// prefixed with the sub-pipeline type. Parts whose setup fails are skipped,
// and a Fatal step failure only stops the rest of its own part.
type Composite struct {
	PipelineType model.PipelineType
	Parts        func(ctx context.Context, req Request) ([]Launcher, error)
	Redirect     func(req Request) string
}

var _ Launcher = (*Composite)(nil)

func (c *Composite) Type() model.PipelineType {
	return c.PipelineType
}

// Prepare prepares every part and concatenates their steps
func (c *Composite) Prepare(ctx context.Context, req Request) (*Plan, error) {
	req.Type = c.PipelineType
	parts, err := c.Parts(ctx, req)
	if err != nil {
		if IsSetupError(err) {
			return nil, err
		}
		return nil, &SetupError{Err: err}
	}

	plan := &Plan{Type: c.PipelineType, Request: req}
	for _, part := range parts {
		sub, err := part.Prepare(ctx, req)
		if err != nil {
			var se *SetupError
			if !errors.As(err, &se) {
				return nil, fmt.Errorf("prepare %s: %w", part.Type(), err)
			}
			slog.Info("Skipping pipeline in composite run",
				"pipeline", part.Type(),
				"location_id", req.LocationID,
				"reason", se.Err,
			)
			continue
		}
		for _, s := range partScoped(sub.Steps) {
			s.Name = string(part.Type()) + "." + s.Name
			plan.Steps = append(plan.Steps, s)
		}
	}

	if len(plan.Steps) == 0 {
		return nil, &SetupError{Err: ErrNoSteps}
	}
	if c.Redirect != nil {
		plan.RedirectURL = c.Redirect(req)
	}
	return plan, nil
}

// partScoped confines Fatal failures to one sub-pipeline. Fatal steps run as
// Continue; once one fails, the remaining steps of the part fail fast with a
// skip warning instead of running on missing data. Steps run sequentially.
func partScoped(steps []BoundStep) []BoundStep {
	var stoppedBy string
	out := make([]BoundStep, len(steps))
	for i, s := range steps {
		run, label, fatal := s.Run, s.Label, s.Policy == Fatal
		s.Policy = Continue
		s.Run = func(ctx context.Context, r *Run) error {
			if stoppedBy != "" {
				return &UserError{Message: fmt.Sprintf("%s skipped after %s failed", label, stoppedBy)}
			}
			err := run(ctx, r)
			if err != nil && fatal {
				stoppedBy = label
			}
			return err
		}
		out[i] = s
	}
	return out
}
