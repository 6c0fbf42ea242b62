package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/provider"
	"github.com/dandantas/scout/internal/transport"
)

func newDispatcher(url string) *Dispatcher {
	d := NewDispatcher(Options{
		StartURL:    url,
		ProxySecret: "s3cret",
		InitTimeout: time.Second,
		Retry:       provider.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
	})
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestStartRefresh_ReturnsJobIDFromInit(t *testing.T) {
	var got startRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderSecret) != "s3cret" {
			t.Errorf("missing proxy secret")
		}
		if r.Header.Get(auth.HeaderTenant) != "t1" || r.Header.Get(auth.HeaderRole) != auth.RoleOwner {
			t.Errorf("unexpected identity headers: %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_ = transport.Encode(w, model.EventInit, model.InitEvent{JobID: "job-42"})
		w.(http.Flusher).Flush()
		// The dispatcher must not wait for the rest of the run.
		<-r.Context().Done()
	}))
	defer server.Close()

	jobID, err := newDispatcher(server.URL).StartRefresh(context.Background(), "t1", "loc-1")
	if err != nil {
		t.Fatalf("StartRefresh: %v", err)
	}
	if jobID != "job-42" {
		t.Errorf("expected job-42, got %q", jobID)
	}
	if got.Type != model.PipelineRefreshAll || got.LocationID != "loc-1" {
		t.Errorf("unexpected request body: %+v", got)
	}
}

func TestStartRefresh_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"busy"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_ = transport.Encode(w, model.EventInit, model.InitEvent{JobID: "job-retry"})
	}))
	defer server.Close()

	jobID, err := newDispatcher(server.URL).StartRefresh(context.Background(), "t1", "loc-1")
	if err != nil {
		t.Fatalf("StartRefresh: %v", err)
	}
	if jobID != "job-retry" || calls.Load() != 3 {
		t.Errorf("expected job-retry after 3 calls, got %q after %d", jobID, calls.Load())
	}
}

func TestStartRefresh_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer server.Close()

	_, err := newDispatcher(server.URL).StartRefresh(context.Background(), "t1", "loc-1")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestStartRefresh_SetupErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_ = transport.Encode(w, model.EventError, model.ErrorEvent{Message: "Location has no coordinates"})
		_ = transport.Encode(w, model.EventDone, model.DoneEvent{Warnings: []string{}})
	}))
	defer server.Close()

	_, err := newDispatcher(server.URL).StartRefresh(context.Background(), "t1", "loc-1")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestStartRefresh_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newDispatcher(server.URL).StartRefresh(context.Background(), "t1", "loc-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}
