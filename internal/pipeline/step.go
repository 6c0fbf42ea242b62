package pipeline

import (
	"context"
	"time"

	"github.com/dandantas/scout/internal/model"
)

// Policy decides what a step failure does to the rest of the job
type Policy int

const (
	// Fatal stops the job; remaining steps stay queued
	Fatal Policy = iota
	// Continue records a warning and moves on to the next step
	Continue
)

func (p Policy) String() string {
	if p == Continue {
		return "continue"
	}
	return "fatal"
}

// Step is one unit of work over a pipeline context C
type Step[C any] struct {
	Name   string
	Label  string
	Policy Policy
	Run    func(ctx context.Context, c *C, run *Run) error
}

// Request identifies what to run and for whom
type Request struct {
	TenantID   string
	LocationID string
	Type       model.PipelineType
	Now        time.Time
}

// Date returns the request day in snapshot date format
func (r Request) Date() string {
	return r.Now.UTC().Format(model.DateLayout)
}

// BoundStep is a step closed over its prepared context
type BoundStep struct {
	Name   string
	Label  string
	Policy Policy
	Run    func(ctx context.Context, run *Run) error
}

// Plan is a prepared pipeline ready to execute
type Plan struct {
	Type        model.PipelineType
	Request     Request
	Steps       []BoundStep
	RedirectURL string
}

// StepList returns the queued step records for a new job
func (p *Plan) StepList() []model.Step {
	steps := make([]model.Step, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = model.Step{Name: s.Name, Label: s.Label, Status: model.StepQueued}
	}
	return steps
}
