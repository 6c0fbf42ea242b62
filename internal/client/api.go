// Package client consumes the pipeline HTTP surface: it starts and follows
// jobs and reduces their event streams into renderable state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/transport"
)

// StatusError is a non-2xx answer from the server
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// API calls the scout server on behalf of one principal
type API struct {
	baseURL   string
	principal auth.Principal
	secret    string
	http      *http.Client
}

// NewAPI creates an API client. A nil client uses one without a timeout,
// since streams stay open for minutes.
func NewAPI(baseURL string, principal auth.Principal, secret string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{}
	}
	return &API{
		baseURL:   strings.TrimRight(baseURL, "/"),
		principal: principal,
		secret:    secret,
		http:      client,
	}
}

// StartPipeline starts a pipeline and returns its event stream
func (a *API) StartPipeline(ctx context.Context, pipelineType model.PipelineType, locationID string) (*Stream, error) {
	body, err := json.Marshal(map[string]string{
		"type":        string(pipelineType),
		"location_id": locationID,
	})
	if err != nil {
		return nil, err
	}
	return a.openStream(ctx, http.MethodPost, "/api/v1/pipelines", body)
}

// StreamJob reconnects to an existing job
func (a *API) StreamJob(ctx context.Context, jobID string) (*Stream, error) {
	return a.openStream(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID)+"/stream", nil)
}

// Feed opens the ambient feed of a location
func (a *API) Feed(ctx context.Context, locationID string) (*Stream, error) {
	return a.openStream(ctx, http.MethodGet, "/api/v1/locations/"+url.PathEscape(locationID)+"/feed", nil)
}

// ActiveJobs lists running jobs, plus recently finished ones when recent is set
func (a *API) ActiveJobs(ctx context.Context, recent bool) ([]model.JobSummary, error) {
	path := "/api/v1/jobs/active"
	if recent {
		path += "?recent=true"
	}
	var out struct {
		Jobs []model.JobSummary `json:"jobs"`
	}
	if err := a.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	if out.Jobs == nil {
		out.Jobs = []model.JobSummary{}
	}
	return out.Jobs, nil
}

// Job fetches one job record
func (a *API) Job(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	if err := a.getJSON(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (a *API) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth.SetHeaders(req, a.principal, a.secret)
	return req, nil
}

func (a *API) getJSON(ctx context.Context, path string, v any) error {
	req, err := a.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (a *API) openStream(ctx context.Context, method, path string, body []byte) (*Stream, error) {
	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return &Stream{body: resp.Body, dec: transport.NewDecoder(resp.Body)}, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

// Stream is an open event stream. Close may be called from any goroutine.
type Stream struct {
	body      io.ReadCloser
	dec       *transport.Decoder
	closeOnce sync.Once
}

// Next returns the next event, or io.EOF when the server closed the stream
func (s *Stream) Next() (transport.Event, error) {
	return s.dec.Next()
}

// Close drops the connection. The server-side job is unaffected.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}
