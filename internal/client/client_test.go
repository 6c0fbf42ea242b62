package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/transport"
)

func event(t *testing.T, name string, payload any) transport.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return transport.Event{Name: name, Data: data}
}

func weatherSteps() []model.Step {
	return []model.Step{{Name: "fetch_weather", Label: "Fetching today's weather", Status: model.StepQueued}}
}

func TestReduce_WeatherSequence(t *testing.T) {
	s := State{Phase: PhaseRunning}
	step := model.Step{Name: "fetch_weather", Label: "Fetching today's weather"}

	s = Reduce(s, event(t, model.EventInit, model.InitEvent{JobID: "j1", Steps: weatherSteps()}))
	if s.JobID != "j1" || len(s.Steps) != 1 || s.Progress != 0 {
		t.Fatalf("unexpected state after init: %+v", s)
	}

	step.Status = model.StepRunning
	s = Reduce(s, event(t, model.EventStep, model.StepEvent{JobID: "j1", Index: 0, Step: step, Progress: 0}))
	if s.Steps[0].Status != model.StepRunning {
		t.Fatalf("expected running step, got %s", s.Steps[0].Status)
	}

	step.Status = model.StepComplete
	s = Reduce(s, event(t, model.EventStep, model.StepEvent{JobID: "j1", Index: 0, Step: step, Progress: 100}))
	s = Reduce(s, event(t, model.EventDone, model.DoneEvent{JobID: "j1", Status: model.JobCompleted, Warnings: []string{}, RedirectURL: "/weather"}))

	if s.Phase != PhaseComplete || s.Progress != 100 || s.RedirectURL != "/weather" || !s.Done {
		t.Fatalf("unexpected final state: %+v", s)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := Reduce(State{}, event(t, model.EventInit, model.InitEvent{JobID: "j1", Steps: weatherSteps()}))
	step := model.Step{Name: "fetch_weather", Status: model.StepRunning}
	_ = Reduce(s, event(t, model.EventStep, model.StepEvent{Index: 0, Step: step}))
	if s.Steps[0].Status != model.StepQueued {
		t.Fatal("Reduce mutated its input")
	}
}

func TestReduce_CardsDeduplicated(t *testing.T) {
	card := model.AmbientCard{ID: "c1", Category: "tip", Text: "Post your specials"}
	s := Reduce(State{}, event(t, model.EventCard, card))
	s = Reduce(s, event(t, model.EventCard, card))
	s = Reduce(s, event(t, model.EventCard, model.AmbientCard{ID: "c2", Text: "other"}))
	if len(s.Cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(s.Cards))
	}
}

func TestReduce_ProgressNeverDecreases(t *testing.T) {
	s := State{Progress: 50, CurrentStep: 2}
	s = Reduce(s, event(t, model.EventStep, model.StepEvent{Index: 1, Step: model.Step{Status: model.StepComplete}, Progress: 25}))
	if s.Progress != 50 || s.CurrentStep != 2 {
		t.Fatalf("progress went backwards: %+v", s)
	}
}

func TestReduce_ErrorThenDoneStaysFailed(t *testing.T) {
	s := Reduce(State{Phase: PhaseRunning}, event(t, model.EventError, model.ErrorEvent{Message: "Location has no coordinates"}))
	s = Reduce(s, event(t, model.EventDone, model.DoneEvent{Warnings: []string{}}))
	if s.Phase != PhaseFailed || s.Error != "Location has no coordinates" {
		t.Fatalf("unexpected state: %+v", s)
	}

	after := Reduce(s, event(t, model.EventCard, model.AmbientCard{ID: "late"}))
	if len(after.Cards) != 0 {
		t.Fatal("events after done must be ignored")
	}
}

func TestReduce_StillRunningKeepsJobRunning(t *testing.T) {
	s := Reduce(State{Phase: PhaseRunning, JobID: "job-9"}, event(t, model.EventError, model.ErrorEvent{Message: "still going", StillRunning: true}))
	if s.Phase != PhaseRunning || !s.Detached || s.Error != "still going" {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestReduce_DoneFailedStatus(t *testing.T) {
	s := Reduce(State{Phase: PhaseRunning}, event(t, model.EventDone, model.DoneEvent{Status: model.JobFailed, Warnings: []string{"Content scrape failed for Rival"}}))
	if s.Phase != PhaseFailed || len(s.Warnings) != 1 {
		t.Fatalf("unexpected state: %+v", s)
	}
}

type fakeServer struct {
	mu       sync.Mutex
	requests []*http.Request
	start    func(w http.ResponseWriter, r *http.Request)
	stream   func(w http.ResponseWriter, r *http.Request)
	active   []model.JobSummary
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.start(w, r)
	})
	mux.HandleFunc("GET /api/v1/jobs/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.stream(w, r)
	})
	mux.HandleFunc("GET /api/v1/jobs/active", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": f.active})
	})
	return mux
}

func (f *fakeServer) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
}

func sse(w http.ResponseWriter, events ...func(w http.ResponseWriter)) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, e := range events {
		e(w)
		w.(http.Flusher).Flush()
	}
}

func frame(name string, payload any) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { _ = transport.Encode(w, name, payload) }
}

func weatherRun(jobID string) []func(w http.ResponseWriter) {
	running := model.Step{Name: "fetch_weather", Label: "Fetching today's weather", Status: model.StepRunning}
	complete := running
	complete.Status = model.StepComplete
	return []func(w http.ResponseWriter){
		frame(model.EventInit, model.InitEvent{JobID: jobID, Steps: weatherSteps()}),
		frame(model.EventStep, model.StepEvent{JobID: jobID, Index: 0, Step: running, Progress: 0}),
		frame(model.EventCard, model.AmbientCard{ID: "c1", Category: "weather", Text: "Sunny afternoon"}),
		frame(model.EventStep, model.StepEvent{JobID: jobID, Index: 0, Step: complete, Progress: 100}),
		frame(model.EventDone, model.DoneEvent{JobID: jobID, Status: model.JobCompleted, Warnings: []string{}, RedirectURL: "/weather"}),
	}
}

func newTestAPI(url string) *API {
	return NewAPI(url, auth.Principal{UserID: "u1", TenantID: "t1", Role: auth.RoleOwner}, "secret", nil)
}

func TestRunner_StartFollowsToCompletion(t *testing.T) {
	fs := &fakeServer{
		start: func(w http.ResponseWriter, r *http.Request) { sse(w, weatherRun("job-1")...) },
	}
	server := httptest.NewServer(fs.handler())
	defer server.Close()

	runner := NewRunner(newTestAPI(server.URL))
	var (
		mu     sync.Mutex
		phases []Phase
	)
	runner.OnChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, s.Phase)
	})

	if err := runner.Start(context.Background(), model.PipelineWeather, "loc-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runner.Wait()

	s := runner.State()
	if s.Phase != PhaseComplete || s.JobID != "job-1" || len(s.Cards) != 1 || s.RedirectURL != "/weather" {
		t.Fatalf("unexpected final state: %+v", s)
	}
	if s.FinishedAt.IsZero() || s.Elapsed < 0 {
		t.Errorf("expected finish time and elapsed, got %+v", s)
	}
	if phases[0] != PhaseRunning || phases[len(phases)-1] != PhaseComplete {
		t.Errorf("unexpected phase sequence %v", phases)
	}

	req := fs.requests[0]
	if req.Header.Get(auth.HeaderSecret) != "secret" || req.Header.Get(auth.HeaderTenant) != "t1" {
		t.Errorf("missing identity headers: %v", req.Header)
	}
}

func TestRunner_StartRejected(t *testing.T) {
	fs := &fakeServer{
		start: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid pipeline type"}`))
		},
	}
	server := httptest.NewServer(fs.handler())
	defer server.Close()

	runner := NewRunner(newTestAPI(server.URL))
	err := runner.Start(context.Background(), "bogus", "loc-1")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if s := runner.State(); s.Phase != PhaseFailed || s.Error != "invalid pipeline type" {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestRunner_StreamEndingEarlyFails(t *testing.T) {
	fs := &fakeServer{
		start: func(w http.ResponseWriter, r *http.Request) {
			sse(w, frame(model.EventInit, model.InitEvent{JobID: "job-2", Steps: weatherSteps()}))
		},
	}
	server := httptest.NewServer(fs.handler())
	defer server.Close()

	runner := NewRunner(newTestAPI(server.URL))
	if err := runner.Start(context.Background(), model.PipelineWeather, "loc-1"); err != nil {
		t.Fatal(err)
	}
	runner.Wait()
	if s := runner.State(); s.Phase != PhaseFailed || s.Error != MsgConnectionLost {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestRunner_DetachedStreamIsNotAFailure(t *testing.T) {
	running := model.Step{Name: "fetch_weather", Label: "Fetching today's weather", Status: model.StepRunning}
	fs := &fakeServer{}
	fs.stream = func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			frame(model.EventInit, model.InitEvent{JobID: r.PathValue("id"), Steps: weatherSteps()}),
			frame(model.EventStep, model.StepEvent{JobID: r.PathValue("id"), Index: 0, Step: running}),
			frame(model.EventError, model.ErrorEvent{Message: "Job is still running", StillRunning: true}),
		)
	}
	server := httptest.NewServer(fs.handler())
	defer server.Close()

	runner := NewRunner(newTestAPI(server.URL))
	if err := runner.Reconnect(context.Background(), "job-7", "loc-1"); err != nil {
		t.Fatal(err)
	}
	runner.Wait()
	s := runner.State()
	if s.Phase != PhaseRunning || !s.Detached || s.JobID != "job-7" {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestRunner_CloseStopsUpdates(t *testing.T) {
	release := make(chan struct{})
	fs := &fakeServer{
		start: func(w http.ResponseWriter, r *http.Request) {
			sse(w, frame(model.EventInit, model.InitEvent{JobID: "job-3", Steps: weatherSteps()}))
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	}
	server := httptest.NewServer(fs.handler())
	defer server.Close()
	defer close(release)

	runner := NewRunner(newTestAPI(server.URL))
	if err := runner.Start(context.Background(), model.PipelineWeather, "loc-1"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for runner.State().JobID != "job-3" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	runner.Close()
	s := runner.State()
	if s.Phase != PhaseRunning {
		t.Fatalf("close must freeze state without failing, got %s", s.Phase)
	}

	runner.Reset()
	if runner.State().Phase != PhaseIdle {
		t.Fatal("expected idle after reset")
	}
}

func TestRunner_ResumeReconnectsToMatchingJob(t *testing.T) {
	fs := &fakeServer{
		active: []model.JobSummary{
			{ID: "other", Type: model.PipelineContent, LocationID: "loc-1", Status: model.JobRunning},
			{ID: "job-4", Type: model.PipelineWeather, LocationID: "loc-1", Status: model.JobRunning, CreatedAt: "2026-01-02T10:00:00Z"},
		},
		stream: func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("id") != "job-4" {
				http.NotFound(w, r)
				return
			}
			sse(w, weatherRun("job-4")...)
		},
	}
	server := httptest.NewServer(fs.handler())
	defer server.Close()

	runner := NewRunner(newTestAPI(server.URL))
	found, err := runner.Resume(context.Background(), model.PipelineWeather, "loc-1")
	if err != nil || !found {
		t.Fatalf("Resume: found=%v err=%v", found, err)
	}
	runner.Wait()

	s := runner.State()
	if s.Phase != PhaseComplete || s.JobID != "job-4" || s.Type != model.PipelineWeather {
		t.Fatalf("unexpected state: %+v", s)
	}
	if !s.StartedAt.Equal(time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("expected start time from the job, got %v", s.StartedAt)
	}
}

func TestRunner_ResumeWithoutMatchGoesIdle(t *testing.T) {
	fs := &fakeServer{active: []model.JobSummary{}}
	server := httptest.NewServer(fs.handler())
	defer server.Close()

	runner := NewRunner(newTestAPI(server.URL))
	found, err := runner.Resume(context.Background(), model.PipelineEvents, "loc-1")
	if err != nil || found {
		t.Fatalf("Resume: found=%v err=%v", found, err)
	}
	if runner.State().Phase != PhaseIdle {
		t.Fatalf("expected idle, got %s", runner.State().Phase)
	}
}

type fakeLister struct {
	polls [][]model.JobSummary
	calls int
}

func (f *fakeLister) ActiveJobs(context.Context, bool) ([]model.JobSummary, error) {
	if f.calls >= len(f.polls) {
		return f.polls[len(f.polls)-1], nil
	}
	jobs := f.polls[f.calls]
	f.calls++
	return jobs, nil
}

func TestActiveJobWatcher_ReportsFinishedJobsOnce(t *testing.T) {
	lister := &fakeLister{polls: [][]model.JobSummary{
		{{ID: "a", Status: model.JobRunning}, {ID: "b", Status: model.JobRunning}},
		{{ID: "a", Status: model.JobCompleted}, {ID: "b", Status: model.JobRunning}},
		{{ID: "a", Status: model.JobCompleted}},
		{},
	}}
	var finished []string
	w := NewActiveJobWatcher(lister, WatcherOptions{
		OnFinished: func(j model.JobSummary) { finished = append(finished, j.ID) },
	})

	for i := 0; i < 4; i++ {
		if _, err := w.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(finished) != 2 || finished[0] != "a" || finished[1] != "b" {
		t.Fatalf("expected a then b, got %v", finished)
	}
	if len(w.Running()) != 0 {
		t.Errorf("expected no running jobs, got %v", w.Running())
	}
}

func TestActiveJobWatcher_RunStopsOnCancel(t *testing.T) {
	lister := &fakeLister{polls: [][]model.JobSummary{{{ID: "a", Status: model.JobRunning}}}}
	w := NewActiveJobWatcher(lister, WatcherOptions{FastInterval: time.Millisecond, SlowInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if lister.calls == 0 {
		t.Fatal("expected at least one poll")
	}
}
