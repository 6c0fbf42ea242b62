package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/transport"
)

type empty struct{}

type env struct {
	pipelines *PipelineService
	jobs      *JobService
	tracker   *jobstore.Tracker
	release   chan struct{}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithStore(t, jobstore.NewMemoryStore())
}

func newEnvWithStore(t *testing.T, store jobstore.Store) *env {
	t.Helper()
	dir := directory.NewMemory()
	dir.AddTenant(model.Tenant{ID: "T1", Tier: "pro"})
	dir.AddTenant(model.Tenant{ID: "T2", Tier: "pro"})
	dir.AddLocation(model.Location{ID: "L1", TenantID: "T1", Name: "Home"})
	dir.AddLocation(model.Location{ID: "L2", TenantID: "T2", Name: "Other"})

	release := make(chan struct{})
	weather := &pipeline.Definition[empty]{
		PipelineType: model.PipelineWeather,
		Build: func(context.Context, pipeline.Request) (*empty, error) {
			return &empty{}, nil
		},
		Steps: func(*empty) []pipeline.Step[empty] {
			return []pipeline.Step[empty]{{
				Name:  "fetch_weather",
				Label: "Fetching today's weather",
				Run: func(ctx context.Context, _ *empty, _ *pipeline.Run) error {
					select {
					case <-release:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			}}
		},
		Redirect: func(req pipeline.Request) string { return "/weather?location_id=" + req.LocationID },
	}
	events := &pipeline.Definition[empty]{
		PipelineType: model.PipelineEvents,
		Build: func(context.Context, pipeline.Request) (*empty, error) {
			return nil, errors.New("location has no coordinates")
		},
		Steps: func(*empty) []pipeline.Step[empty] { return nil },
	}

	tracker := jobstore.NewTracker(store, jobstore.TrackerOptions{})
	return &env{
		pipelines: NewPipelineService(pipeline.NewRegistry(weather, events), dir, tracker, pipeline.NewEngine(tracker), time.Minute),
		jobs:      NewJobService(tracker, pipeline.NewWatcher(tracker, 5*time.Millisecond, 100)),
		tracker:   tracker,
		release:   release,
	}
}

func owner(tenant string) *auth.Principal {
	return &auth.Principal{UserID: "u1", TenantID: tenant, Role: auth.RoleOwner}
}

func TestStart_RejectionOrder(t *testing.T) {
	e := newEnv(t)
	member := &auth.Principal{UserID: "u2", TenantID: "T1", Role: auth.RoleMember}

	tests := []struct {
		name     string
		p        *auth.Principal
		rawType  string
		location string
		want     error
	}{
		{"unauthenticated beats everything", nil, "bogus", "", ErrUnauthenticated},
		{"invalid type beats missing location", owner("T1"), "bogus", "", ErrInvalidType},
		{"missing location beats role", member, "weather", " ", ErrMissingLocation},
		{"role beats unknown location", member, "weather", "nope", ErrForbidden},
		{"unknown location", owner("T1"), "weather", "nope", ErrNotFound},
		{"location of another tenant", owner("T1"), "weather", "L2", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened := false
			job, err := e.pipelines.Start(context.Background(), tt.p, tt.rawType, tt.location, func() (transport.Emitter, error) {
				opened = true
				return transport.NewRecorder(), nil
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if job != nil || opened {
				t.Error("rejected request must not open a stream or create a job")
			}
		})
	}

	jobs, _ := e.jobs.Active(context.Background(), owner("T1"))
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
}

func TestStart_SetupErrorEmitsErrorWithoutJob(t *testing.T) {
	e := newEnv(t)
	rec := transport.NewRecorder()

	job, err := e.pipelines.Start(context.Background(), owner("T1"), "events", "L1", func() (transport.Emitter, error) {
		return rec, nil
	})
	if !pipeline.IsSetupError(err) || job != nil {
		t.Fatalf("expected setup error without job, got %v %v", job, err)
	}
	if got := rec.Names(); !reflect.DeepEqual(got, []string{model.EventError}) {
		t.Errorf("events = %v", got)
	}
	if !rec.Closed() {
		t.Error("stream should be closed")
	}
	recent, _ := e.jobs.Recent(context.Background(), owner("T1"))
	if len(recent) != 0 {
		t.Errorf("expected no jobs, got %d", len(recent))
	}
}

func TestStart_RunSurvivesRequestCancellation(t *testing.T) {
	e := newEnv(t)
	rec := transport.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	job, err := e.pipelines.Start(ctx, owner("T1"), "weather", "L1", func() (transport.Emitter, error) {
		return rec, nil
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	cancel()

	active, err := e.jobs.Active(context.Background(), owner("T1"))
	if err != nil || len(active) != 1 || active[0].ID != job.ID {
		t.Fatalf("expected the job to be active, got %v (err %v)", active, err)
	}

	close(e.release)
	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	want := []string{model.EventInit, model.EventStep, model.EventStep, model.EventDone}
	if got := rec.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	stored, err := e.jobs.Get(context.Background(), owner("T1"), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.JobCompleted || stored.Result.RedirectURL != "/weather?location_id=L1" {
		t.Errorf("unexpected stored job %+v", stored)
	}
	if err := e.pipelines.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error: %v", err)
	}
}

func TestJobs_CrossTenantIsNotFound(t *testing.T) {
	e := newEnv(t)
	close(e.release)
	rec := transport.NewRecorder()
	job, err := e.pipelines.Start(context.Background(), owner("T1"), "weather", "L1", func() (transport.Emitter, error) {
		return rec, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	<-rec.Done()

	if _, err := e.jobs.Get(context.Background(), owner("T2"), job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant Get: got %v, want ErrNotFound", err)
	}
	if _, err := e.jobs.Get(context.Background(), owner("T1"), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown job: got %v, want ErrNotFound", err)
	}
	if _, err := e.jobs.Active(context.Background(), nil); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("anonymous Active: got %v", err)
	}
}

func TestJobs_ReconnectStreamsConverge(t *testing.T) {
	e := newEnv(t)
	rec := transport.NewRecorder()
	job, err := e.pipelines.Start(context.Background(), owner("T1"), "weather", "L1", func() (transport.Emitter, error) {
		return rec, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	watchers := []*transport.Recorder{transport.NewRecorder(), transport.NewRecorder()}
	for _, w := range watchers {
		stored, err := e.jobs.Get(context.Background(), owner("T1"), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		go e.jobs.Stream(context.Background(), stored, w)
	}
	close(e.release)

	var finals []model.DoneEvent
	for _, w := range watchers {
		select {
		case <-w.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("watcher did not finish")
		}
		names := w.Names()
		if names[0] != model.EventInit || names[len(names)-1] != model.EventDone {
			t.Fatalf("unexpected watcher events %v", names)
		}
		var done model.DoneEvent
		if err := w.Decode(len(names)-1, &done); err != nil {
			t.Fatal(err)
		}
		finals = append(finals, done)
	}
	if !reflect.DeepEqual(finals[0], finals[1]) || finals[0].Status != model.JobCompleted {
		t.Errorf("watchers diverged: %+v", finals)
	}
}

var errStoreDown = errors.New("connection refused")

// downStore fails every call, like a job store whose database is unreachable
type downStore struct{}

func (downStore) Create(context.Context, *model.Job) error { return errStoreDown }
func (downStore) Get(context.Context, string) (*model.Job, error) {
	return nil, errStoreDown
}
func (downStore) UpdateStep(context.Context, string, int, model.StepStatus, string) error {
	return errStoreDown
}
func (downStore) Finalize(context.Context, string, model.JobStatus, model.JobResult) error {
	return errStoreDown
}
func (downStore) ListActive(context.Context, string) ([]*model.Job, error) {
	return nil, errStoreDown
}
func (downStore) ListRecent(context.Context, string, time.Time) ([]*model.Job, error) {
	return nil, errStoreDown
}
func (downStore) MarkStale(context.Context, string, time.Time, string) (bool, error) {
	return false, errStoreDown
}

func TestStart_CompletesWhenJobStoreIsDown(t *testing.T) {
	e := newEnvWithStore(t, downStore{})
	close(e.release)
	rec := transport.NewRecorder()

	job, err := e.pipelines.Start(context.Background(), owner("T1"), "weather", "L1", func() (transport.Emitter, error) {
		return rec, nil
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !strings.HasPrefix(job.ID, jobstore.EphemeralPrefix) {
		t.Fatalf("job id = %q, want ephemeral", job.ID)
	}
	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	want := []string{model.EventInit, model.EventStep, model.EventStep, model.EventDone}
	if got := rec.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	var init model.InitEvent
	if err := rec.Decode(0, &init); err != nil {
		t.Fatal(err)
	}
	var done model.DoneEvent
	if err := rec.Decode(3, &done); err != nil {
		t.Fatal(err)
	}
	if init.JobID != job.ID || done.JobID != job.ID {
		t.Errorf("init/done job ids = %q/%q, want %q", init.JobID, done.JobID, job.ID)
	}
	if done.Status != model.JobCompleted {
		t.Errorf("done status = %s, want completed", done.Status)
	}

	stored, err := e.jobs.Get(context.Background(), owner("T1"), job.ID)
	if err != nil {
		t.Fatalf("Get ephemeral job: %v", err)
	}
	if stored.Status != model.JobCompleted || !stored.Ephemeral {
		t.Errorf("stored job = %+v", stored)
	}
	recent, err := e.jobs.Recent(context.Background(), owner("T1"))
	if err != nil || len(recent) != 1 {
		t.Errorf("recent = %v (err %v), want the ephemeral job", recent, err)
	}
}
