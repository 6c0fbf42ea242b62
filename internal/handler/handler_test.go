package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/feed"
	"github.com/dandantas/scout/internal/insight"
	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/service"
	"github.com/dandantas/scout/internal/transport"
	"github.com/dandantas/scout/pkg/middleware"
)

const secret = "proxy-secret"

type noop struct{}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := directory.NewMemory()
	dir.AddTenant(model.Tenant{ID: "T1", Tier: "pro"})
	dir.AddTenant(model.Tenant{ID: "T2", Tier: "pro"})
	dir.AddLocation(model.Location{ID: "L1", TenantID: "T1", Name: "Home"})
	dir.AddLocation(model.Location{ID: "L2", TenantID: "T2", Name: "Other"})

	weather := &pipeline.Definition[noop]{
		PipelineType: model.PipelineWeather,
		Build: func(context.Context, pipeline.Request) (*noop, error) {
			return &noop{}, nil
		},
		Steps: func(*noop) []pipeline.Step[noop] {
			return []pipeline.Step[noop]{{
				Name:  "fetch_weather",
				Label: "Fetching today's weather",
				Run:   func(context.Context, *noop, *pipeline.Run) error { return nil },
			}}
		},
		Redirect: func(req pipeline.Request) string { return "/weather?location_id=" + req.LocationID },
	}

	tracker := jobstore.NewTracker(jobstore.NewMemoryStore(), jobstore.TrackerOptions{})
	pipelines := service.NewPipelineService(pipeline.NewRegistry(weather), dir, tracker, pipeline.NewEngine(tracker), time.Minute)
	jobs := service.NewJobService(tracker, pipeline.NewWatcher(tracker, 10*time.Millisecond, 50))
	insights := insight.NewGenerator(insight.NewEvaluator(nil), insight.NewMemoryStore())

	router := NewRouter(
		NewPipelineHandler(pipelines),
		NewJobHandler(jobs),
		NewFeedHandler(feed.NewService(dir, insights, nil, feed.Options{})),
		NewHealthHandler(map[string]Pinger{
			"jobs": PingFunc(func(context.Context) error { return nil }),
		}, "test"),
		auth.NewHeaderResolver(secret),
		middleware.CORSConfig{AllowedOrigins: "*", AllowedMethods: "GET, POST", AllowedHeaders: "*"},
	)
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, p *auth.Principal, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		auth.SetHeaders(req, *p, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, resp *http.Response) []transport.Event {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}
	dec := transport.NewDecoder(resp.Body)
	var events []transport.Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		events = append(events, ev)
	}
}

func names(events []transport.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Name
	}
	return out
}

var (
	ownerT1  = &auth.Principal{UserID: "u1", TenantID: "T1", Role: auth.RoleOwner}
	ownerT2  = &auth.Principal{UserID: "u2", TenantID: "T2", Role: auth.RoleOwner}
	memberT1 = &auth.Principal{UserID: "u3", TenantID: "T1", Role: auth.RoleMember}
)

func TestStartPipeline_Rejections(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name string
		p    *auth.Principal
		body string
		want int
	}{
		{"unauthenticated", nil, `{"type":"weather","location_id":"L1"}`, http.StatusUnauthorized},
		{"invalid type", ownerT1, `{"type":"tarot","location_id":"L1"}`, http.StatusBadRequest},
		{"missing location", ownerT1, `{"type":"weather"}`, http.StatusBadRequest},
		{"member role", memberT1, `{"type":"weather","location_id":"L1"}`, http.StatusForbidden},
		{"foreign location", ownerT1, `{"type":"weather","location_id":"L2"}`, http.StatusNotFound},
		{"malformed body", ownerT1, `{"type":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/v1/pipelines", tt.p, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("rejection should not open a stream, content type %q", ct)
			}
		})
	}
}

func TestStartPipeline_StreamsWeatherRun(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/pipelines?type=weather&location_id=L1", ownerT1, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	events := readEvents(t, resp)

	want := []string{model.EventInit, model.EventStep, model.EventStep, model.EventDone}
	if got := names(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	var done model.DoneEvent
	if err := events[3].Decode(&done); err != nil {
		t.Fatal(err)
	}
	if done.Status != model.JobCompleted || done.RedirectURL != "/weather?location_id=L1" || done.Warnings == nil {
		t.Errorf("unexpected done %+v", done)
	}

	// finished jobs stay visible in the recent list
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/jobs/active?recent=true", ownerT1, "")
	var list JobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != done.JobID {
		t.Errorf("recent jobs = %+v", list.Jobs)
	}

	// reconnecting to a finished job replays it and ends with the same done
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+done.JobID+"/stream", ownerT1, "")
	replay := readEvents(t, resp)
	if got := names(replay); !reflect.DeepEqual(got, []string{model.EventInit, model.EventStep, model.EventDone}) {
		t.Fatalf("replay events = %v", got)
	}
	var again model.DoneEvent
	if err := replay[2].Decode(&again); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(again, done) {
		t.Errorf("replayed done %+v differs from %+v", again, done)
	}

	// other tenants cannot see or reconnect to it
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+done.JobID+"/stream", ownerT2, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-tenant reconnect status = %d, want 404", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct == "text/event-stream" {
		t.Error("cross-tenant reconnect must not open a stream")
	}
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+done.JobID, ownerT2, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-tenant get status = %d, want 404", resp.StatusCode)
	}
}

func TestActiveJobs_AlwaysOK(t *testing.T) {
	srv := newServer(t)

	for _, p := range []*auth.Principal{nil, ownerT1} {
		resp := do(t, http.MethodGet, srv.URL+"/api/v1/jobs/active", p, "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		if cc := resp.Header.Get("Cache-Control"); cc != "no-store, no-cache, must-revalidate" {
			t.Errorf("cache control = %q", cc)
		}
		body, _ := io.ReadAll(resp.Body)
		if strings.TrimSpace(string(body)) != `{"jobs":[]}` {
			t.Errorf("body = %s", body)
		}
	}
}

func TestFeed(t *testing.T) {
	srv := newServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/locations/L1/feed", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous feed status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/api/v1/locations/L2/feed", ownerT1, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign feed status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/locations/L1/feed", memberT1, "")
	if got := names(readEvents(t, resp)); !reflect.DeepEqual(got, []string{model.EventDone}) {
		t.Errorf("empty feed events = %v", got)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t)

	for _, path := range []string{"/health", "/ready"} {
		resp := do(t, http.MethodGet, srv.URL+path, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}

	h := NewHealthHandler(map[string]Pinger{
		"mongodb": PingFunc(func(context.Context) error { return errors.New("down") }),
	}, "test")
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with a down dependency = %d, want 503", rec.Code)
	}
}
