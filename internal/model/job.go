package model

import (
	"fmt"
	"time"
)

// PipelineType identifies one of the data-refresh pipelines
type PipelineType string

const (
	PipelineContent    PipelineType = "content"
	PipelineVisibility PipelineType = "visibility"
	PipelineEvents     PipelineType = "events"
	PipelineInsights   PipelineType = "insights"
	PipelinePhotos     PipelineType = "photos"
	PipelineBusyTimes  PipelineType = "busy_times"
	PipelineWeather    PipelineType = "weather"
	PipelineRefreshAll PipelineType = "refresh_all"
)

// PipelineTypes lists every recognized pipeline type in refresh order
var PipelineTypes = []PipelineType{
	PipelineContent,
	PipelineVisibility,
	PipelineEvents,
	PipelineInsights,
	PipelinePhotos,
	PipelineBusyTimes,
	PipelineWeather,
	PipelineRefreshAll,
}

// Valid reports whether the pipeline type is recognized
func (t PipelineType) Valid() bool {
	for _, known := range PipelineTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParsePipelineType validates a raw pipeline type value
func ParsePipelineType(raw string) (PipelineType, error) {
	t := PipelineType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("invalid pipeline type: %q", raw)
	}
	return t, nil
}

// JobStatus is the overall status of a job
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// StepStatus is the status of a single step within a job
type StepStatus string

const (
	StepQueued   StepStatus = "queued"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
)

// IsTerminal reports whether the step has resolved
func (s StepStatus) IsTerminal() bool {
	return s == StepComplete || s == StepFailed
}

// CanTransition enforces queued -> running -> (complete | failed)
func (s StepStatus) CanTransition(to StepStatus) bool {
	switch s {
	case StepQueued:
		return to == StepRunning
	case StepRunning:
		return to == StepComplete || to == StepFailed
	default:
		return false
	}
}

// Step is one named unit of work within a job
type Step struct {
	Name   string     `json:"name" bson:"name"`
	Label  string     `json:"label" bson:"label"`
	Status StepStatus `json:"status" bson:"status"`
	Error  string     `json:"error,omitempty" bson:"error,omitempty"`
}

// JobResult is the payload recorded when a job reaches a terminal state
type JobResult struct {
	Warnings    []string `json:"warnings" bson:"warnings"`
	RedirectURL string   `json:"redirect_url,omitempty" bson:"redirect_url,omitempty"`
	Error       string   `json:"error,omitempty" bson:"error,omitempty"`
}

// Job is a durable record of one pipeline execution
type Job struct {
	ID          string       `json:"id" bson:"_id"`
	TenantID    string       `json:"tenant_id" bson:"tenant_id"`
	LocationID  string       `json:"location_id" bson:"location_id"`
	Type        PipelineType `json:"type" bson:"type"`
	Status      JobStatus    `json:"status" bson:"status"`
	Steps       []Step       `json:"steps" bson:"steps"`
	CurrentStep int          `json:"current_step" bson:"current_step"`
	Result      *JobResult   `json:"result,omitempty" bson:"result,omitempty"`
	Ephemeral   bool         `json:"ephemeral,omitempty" bson:"-"`
	CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at"`
}

// NewJob builds a running job with every step queued
func NewJob(id, tenantID, locationID string, pipelineType PipelineType, steps []Step, now time.Time) *Job {
	queued := make([]Step, len(steps))
	for i, s := range steps {
		queued[i] = Step{Name: s.Name, Label: s.Label, Status: StepQueued}
	}
	return &Job{
		ID:          id,
		TenantID:    tenantID,
		LocationID:  locationID,
		Type:        pipelineType,
		Status:      JobRunning,
		Steps:       queued,
		CurrentStep: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy safe to hand out of a store
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Steps = append([]Step(nil), j.Steps...)
	if j.Result != nil {
		r := *j.Result
		r.Warnings = append([]string(nil), j.Result.Warnings...)
		c.Result = &r
	}
	return &c
}

// ApplyStep validates and applies a step transition in place.
// CurrentStep only ever moves forward.
func (j *Job) ApplyStep(index int, status StepStatus, errMsg string, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s", j.ID, j.Status)
	}
	if index < 0 || index >= len(j.Steps) {
		return fmt.Errorf("step index %d out of range", index)
	}
	current := j.Steps[index].Status
	if !current.CanTransition(status) {
		return fmt.Errorf("step %d cannot move from %s to %s", index, current, status)
	}
	j.Steps[index].Status = status
	if status == StepFailed {
		j.Steps[index].Error = errMsg
	}
	if index > j.CurrentStep {
		j.CurrentStep = index
	}
	j.UpdatedAt = now
	return nil
}

// Progress returns the completion percentage from resolved steps
func (j *Job) Progress() int {
	if len(j.Steps) == 0 {
		return 100
	}
	resolved := 0
	for _, s := range j.Steps {
		if s.Status.IsTerminal() {
			resolved++
		}
	}
	return resolved * 100 / len(j.Steps)
}

// JobSummary is the list representation returned by the jobs endpoints
type JobSummary struct {
	ID          string       `json:"id"`
	LocationID  string       `json:"location_id"`
	Type        PipelineType `json:"type"`
	Status      JobStatus    `json:"status"`
	CurrentStep int          `json:"current_step"`
	TotalSteps  int          `json:"total_steps"`
	Progress    int          `json:"progress"`
	Warnings    int          `json:"warnings"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
}

// ToSummary converts a Job to its list representation
func (j *Job) ToSummary() JobSummary {
	s := JobSummary{
		ID:          j.ID,
		LocationID:  j.LocationID,
		Type:        j.Type,
		Status:      j.Status,
		CurrentStep: j.CurrentStep,
		TotalSteps:  len(j.Steps),
		Progress:    j.Progress(),
		CreatedAt:   j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.Result != nil {
		s.Warnings = len(j.Result.Warnings)
		s.Error = j.Result.Error
	}
	return s
}
