package worker

import "time"

// Job asks for one refresh_all run of a location
type Job struct {
	TenantID      string
	LocationID    string
	Date          string
	CorrelationID string
	SubmittedAt   time.Time
}

// Result is the outcome of a dispatched job
type Result struct {
	Job      Job
	JobID    string
	Err      error
	Duration time.Duration
}
