package client

import (
	"time"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/transport"
)

// Phase is the lifecycle of a Runner
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseChecking Phase = "checking"
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// IsTerminal reports whether the phase ends a run
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// State is the renderable view of one job
type State struct {
	Phase       Phase
	JobID       string
	LocationID  string
	Type        model.PipelineType
	Steps       []model.Step
	CurrentStep int
	Progress    int
	Cards       []model.AmbientCard
	Warnings    []string
	RedirectURL string
	Error       string
	// Done is set once the done event arrived; later events are ignored
	Done bool
	// Detached is set when the server stopped streaming a job that is still
	// running. Reconnect to keep following it.
	Detached bool

	StartedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration
}

func (s State) clone() State {
	c := s
	c.Steps = append([]model.Step(nil), s.Steps...)
	c.Cards = append([]model.AmbientCard(nil), s.Cards...)
	c.Warnings = append([]string(nil), s.Warnings...)
	return c
}

// Reduce applies one stream event. It never mutates s and ignores events
// it cannot decode.
func Reduce(s State, ev transport.Event) State {
	if s.Done {
		return s
	}
	next := s.clone()

	switch ev.Name {
	case model.EventInit:
		var init model.InitEvent
		if ev.Decode(&init) != nil {
			return s
		}
		next.Phase = PhaseRunning
		next.JobID = init.JobID
		next.Steps = append([]model.Step(nil), init.Steps...)
		next.Progress = resolvedProgress(next.Steps)

	case model.EventStep:
		var step model.StepEvent
		if ev.Decode(&step) != nil || step.Index < 0 {
			return s
		}
		for len(next.Steps) <= step.Index {
			next.Steps = append(next.Steps, model.Step{Status: model.StepQueued})
		}
		next.Steps[step.Index] = step.Step
		if step.Index > next.CurrentStep {
			next.CurrentStep = step.Index
		}
		if step.Progress > next.Progress {
			next.Progress = step.Progress
		}

	case model.EventCard:
		var card model.AmbientCard
		if ev.Decode(&card) != nil {
			return s
		}
		for _, c := range next.Cards {
			if c.ID == card.ID {
				return s
			}
		}
		next.Cards = append(next.Cards, card)

	case model.EventError:
		var e model.ErrorEvent
		if ev.Decode(&e) != nil {
			return s
		}
		next.Error = e.Message
		if e.StillRunning {
			next.Detached = true
			break
		}
		next.Phase = PhaseFailed

	case model.EventDone:
		var done model.DoneEvent
		if ev.Decode(&done) != nil {
			return s
		}
		next.Done = true
		if done.JobID != "" {
			next.JobID = done.JobID
		}
		next.Warnings = append([]string{}, done.Warnings...)
		next.RedirectURL = done.RedirectURL
		switch {
		case done.Status == model.JobFailed:
			next.Phase = PhaseFailed
		case done.Status == model.JobCompleted:
			next.Phase = PhaseComplete
			next.Progress = 100
		case next.Phase != PhaseFailed:
			next.Phase = PhaseComplete
		}

	default:
		return s
	}
	return next
}

func resolvedProgress(steps []model.Step) int {
	resolved := 0
	for _, st := range steps {
		if st.Status.IsTerminal() {
			resolved++
		}
	}
	return model.StepProgress(resolved, len(steps))
}
