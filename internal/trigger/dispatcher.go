// Package trigger starts pipelines on the HTTP surface on behalf of the
// daily orchestrator.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/provider"
	"github.com/dandantas/scout/internal/transport"
	"github.com/dandantas/scout/pkg/middleware"
)

// OrchestratorUser is the principal user id attached to orchestrated runs
const OrchestratorUser = "orchestrator"

// ErrRejected is returned when the server refused to start the pipeline
var ErrRejected = errors.New("pipeline start rejected")

// Options configures a Dispatcher
type Options struct {
	StartURL    string
	ProxySecret string
	// InitTimeout bounds the wait for the init event once connected
	InitTimeout time.Duration
	Retry       provider.RetryConfig
	Client      *http.Client
}

// Dispatcher posts refresh_all starts and waits only for the job id
type Dispatcher struct {
	url         string
	secret      string
	initTimeout time.Duration
	retry       *provider.RetryStrategy
	client      *http.Client
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher
func NewDispatcher(opts Options) *Dispatcher {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = provider.NewStreamClient(opts.InitTimeout)
	}
	return &Dispatcher{
		url:         opts.StartURL,
		secret:      opts.ProxySecret,
		initTimeout: opts.InitTimeout,
		retry:       provider.NewRetryStrategy(opts.Retry),
		client:      client,
		sleep:       sleepCtx,
	}
}

type startRequest struct {
	Type       model.PipelineType `json:"type"`
	LocationID string             `json:"location_id"`
}

// StartRefresh starts refresh_all for the location and returns the job id.
// Connection failures, 429 and 5xx are retried with backoff. Once the
// stream has opened nothing is retried.
func (d *Dispatcher) StartRefresh(ctx context.Context, tenantID, locationID string) (string, error) {
	body, err := json.Marshal(startRequest{Type: model.PipelineRefreshAll, LocationID: locationID})
	if err != nil {
		return "", fmt.Errorf("failed to encode start request: %w", err)
	}
	principal := auth.Principal{UserID: OrchestratorUser, TenantID: tenantID, Role: auth.RoleOwner}

	for attempt := 1; ; attempt++ {
		resp, err := d.post(ctx, body, principal)
		status := 0
		if err == nil {
			status = resp.StatusCode
			if status == http.StatusOK {
				return d.readInit(ctx, resp)
			}
			err = readRejection(resp)
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !d.retry.ShouldRetry(attempt, status, transportErr(status, err)) {
			return "", err
		}

		delay := d.retry.Delay(attempt)
		slog.Warn("Retrying pipeline start",
			"location_id", locationID,
			"attempt", attempt,
			"status", status,
			"delay", delay,
			"error", err,
		)
		if err := d.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, body []byte, p auth.Principal) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if id := middleware.GetCorrelationID(ctx); id != "" {
		req.Header.Set(middleware.CorrelationIDHeader, id)
	}
	auth.SetHeaders(req, p, d.secret)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start request failed: %w", err)
	}
	return resp, nil
}

// readInit consumes the stream until init and then drops the connection.
// The job keeps running on the server.
func (d *Dispatcher) readInit(ctx context.Context, resp *http.Response) (string, error) {
	defer resp.Body.Close()

	timer := time.AfterFunc(d.initTimeout, func() { _ = resp.Body.Close() })
	defer timer.Stop()

	dec := transport.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: stream ended before init", ErrRejected)
			}
			return "", fmt.Errorf("failed reading start stream: %w", err)
		}

		switch ev.Name {
		case model.EventInit:
			var init model.InitEvent
			if err := ev.Decode(&init); err != nil {
				return "", fmt.Errorf("invalid init event: %w", err)
			}
			if init.JobID == "" {
				return "", fmt.Errorf("%w: init without job id", ErrRejected)
			}
			return init.JobID, nil
		case model.EventError:
			var e model.ErrorEvent
			_ = ev.Decode(&e)
			return "", fmt.Errorf("%w: %s", ErrRejected, e.Message)
		}
	}
}

func readRejection(resp *http.Response) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Error string `json:"error"`
	}
	msg := string(bytes.TrimSpace(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
}

// transportErr hides HTTP rejections from the retry policy so it decides on status alone
func transportErr(status int, err error) error {
	if status != 0 {
		return nil
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
