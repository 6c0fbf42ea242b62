package model

// Transport event names
const (
	EventInit  = "init"
	EventStep  = "step"
	EventCard  = "card"
	EventError = "error"
	EventDone  = "done"
)

// InitEvent opens a job stream with the full step list
type InitEvent struct {
	JobID string `json:"jobId"`
	Steps []Step `json:"steps"`
}

// StepEvent reports one step transition
type StepEvent struct {
	JobID    string `json:"jobId"`
	Index    int    `json:"index"`
	Step     Step   `json:"step"`
	Progress int    `json:"progress"`
}

// AmbientCard is an advisory item shown while a pipeline runs
type AmbientCard struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

// ErrorEvent reports a setup or stream failure. StillRunning marks a stream
// the server stopped following while the job itself keeps going.
type ErrorEvent struct {
	Message      string `json:"message"`
	StillRunning bool   `json:"stillRunning,omitempty"`
}

// DoneEvent is the terminal event of every stream
type DoneEvent struct {
	JobID       string    `json:"jobId,omitempty"`
	Status      JobStatus `json:"status,omitempty"`
	Warnings    []string  `json:"warnings"`
	RedirectURL string    `json:"redirectUrl,omitempty"`
}

// NewDoneEvent builds the done payload from a finished job
func NewDoneEvent(jobID string, status JobStatus, result JobResult) DoneEvent {
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return DoneEvent{
		JobID:       jobID,
		Status:      status,
		Warnings:    warnings,
		RedirectURL: result.RedirectURL,
	}
}

// StepProgress computes an integer percentage for done out of total
func StepProgress(done, total int) int {
	if total <= 0 {
		return 100
	}
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	return done * 100 / total
}
