package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/scout/internal/model"
)

// MsgConnectionLost is the failure recorded when a stream ends before done
const MsgConnectionLost = "Connection to the job was lost"

// Runner drives one job at a time through idle, checking, running and a
// terminal phase. Closing or resetting drops the connection without
// affecting the server-side job.
type Runner struct {
	api *API

	mu       sync.Mutex
	state    State
	stream   *Stream
	gen      uint64
	onChange func(State)
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewRunner creates an idle runner
func NewRunner(api *API) *Runner {
	return &Runner{
		api:   api,
		state: State{Phase: PhaseIdle},
		now:   time.Now,
	}
}

// OnChange registers a callback invoked after every state change.
// It runs on the runner's goroutines and must not call back into the runner.
func (r *Runner) OnChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// State returns a snapshot with Elapsed derived from the clock
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Start starts a pipeline and follows it
func (r *Runner) Start(ctx context.Context, pipelineType model.PipelineType, locationID string) error {
	gen := r.begin(State{Phase: PhaseRunning, Type: pipelineType, LocationID: locationID})

	stream, err := r.api.StartPipeline(ctx, pipelineType, locationID)
	if err != nil {
		r.fail(gen, err)
		return err
	}
	r.follow(ctx, gen, stream)
	return nil
}

// Reconnect follows a job that is already running
func (r *Runner) Reconnect(ctx context.Context, jobID, locationID string) error {
	return r.reconnect(ctx, State{Phase: PhaseRunning, JobID: jobID, LocationID: locationID})
}

func (r *Runner) reconnect(ctx context.Context, initial State) error {
	gen := r.begin(initial)

	stream, err := r.api.StreamJob(ctx, initial.JobID)
	if err != nil {
		r.fail(gen, err)
		return err
	}
	r.follow(ctx, gen, stream)
	return nil
}

// Resume looks for an in-flight job of the same type and location and
// reconnects to it. Without one the runner returns to idle and Resume
// reports false.
func (r *Runner) Resume(ctx context.Context, pipelineType model.PipelineType, locationID string) (bool, error) {
	gen := r.begin(State{Phase: PhaseChecking, Type: pipelineType, LocationID: locationID})

	jobs, err := r.api.ActiveJobs(ctx, false)
	if err != nil {
		r.update(gen, func(s *State) { *s = State{Phase: PhaseIdle} })
		return false, err
	}
	for _, job := range jobs {
		if job.Status == model.JobRunning && job.Type == pipelineType && job.LocationID == locationID {
			if !r.current(gen) {
				return false, nil
			}
			initial := State{Phase: PhaseRunning, JobID: job.ID, LocationID: locationID, Type: pipelineType}
			if created, err := time.Parse(time.RFC3339, job.CreatedAt); err == nil {
				initial.StartedAt = created
			}
			if err := r.reconnect(ctx, initial); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	r.update(gen, func(s *State) { *s = State{Phase: PhaseIdle} })
	return false, nil
}

// Reset drops any connection and returns to idle
func (r *Runner) Reset() {
	r.mu.Lock()
	r.gen++
	stream := r.stream
	r.stream = nil
	r.state = State{Phase: PhaseIdle}
	snapshot, notify := r.snapshotLocked(), r.onChange
	r.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if notify != nil {
		notify(snapshot)
	}
}

// Close drops the connection and freezes the current state
func (r *Runner) Close() {
	r.mu.Lock()
	r.gen++
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	r.wg.Wait()
}

// Wait blocks until the current stream has been consumed
func (r *Runner) Wait() {
	r.wg.Wait()
}

// begin replaces the state and invalidates the previous connection
func (r *Runner) begin(initial State) uint64 {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	old := r.stream
	r.stream = nil
	if initial.StartedAt.IsZero() {
		initial.StartedAt = r.now()
	}
	r.state = initial
	snapshot, notify := r.snapshotLocked(), r.onChange
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if notify != nil {
		notify(snapshot)
	}
	return gen
}

func (r *Runner) follow(ctx context.Context, gen uint64, stream *Stream) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		_ = stream.Close()
		return
	}
	r.stream = stream
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer stream.Close()

		for {
			ev, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil || !r.current(gen) {
					return
				}
				if !errors.Is(err, io.EOF) {
					slog.Debug("Job stream read failed", "error", err)
				}
				r.update(gen, func(s *State) {
					if !s.Done && !s.Detached && !s.Phase.IsTerminal() {
						s.Phase = PhaseFailed
						s.Error = MsgConnectionLost
					}
				})
				return
			}

			done := false
			r.update(gen, func(s *State) {
				*s = Reduce(*s, ev)
				done = s.Done
			})
			if done {
				return
			}
		}
	}()
}

func (r *Runner) fail(gen uint64, err error) {
	r.update(gen, func(s *State) {
		s.Phase = PhaseFailed
		s.Error = errorMessage(err)
	})
}

// update applies fn when gen is still current and notifies the listener
func (r *Runner) update(gen uint64, fn func(*State)) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	wasTerminal := r.state.Phase.IsTerminal()
	fn(&r.state)
	if r.state.Phase.IsTerminal() && !wasTerminal {
		r.state.FinishedAt = r.now()
	}
	snapshot, notify := r.snapshotLocked(), r.onChange
	r.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

func (r *Runner) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

func (r *Runner) snapshotLocked() State {
	s := r.state.clone()
	switch {
	case s.StartedAt.IsZero():
	case !s.FinishedAt.IsZero():
		s.Elapsed = s.FinishedAt.Sub(s.StartedAt)
	default:
		s.Elapsed = r.now().Sub(s.StartedAt)
	}
	return s
}

func errorMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return fmt.Sprint(err)
}
