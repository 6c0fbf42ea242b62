package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Provider names, also used as gateway path segments
const (
	NameScraper    = "scraper"
	NameSEO        = "seo"
	NameEvents     = "events"
	NamePlaces     = "places"
	NameWeather    = "weather"
	NameGenerative = "generative"
)

// maxResponseBytes bounds a single provider response
const maxResponseBytes = 4 << 20

// ErrCircuitOpen is returned without calling a provider whose breaker is open
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// StatusError is a non-2xx gateway response
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s provider returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// GatewayOptions configures a Gateway
type GatewayOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retry   RetryConfig
	Breaker BreakerConfig
	Client  *http.Client
}

// Gateway implements every provider against one HTTP gateway.
// Each provider has its own circuit breaker so one failing upstream does not
// block the others.
type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      *RetryStrategy
	breakerCfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGateway creates a gateway client
func NewGateway(opts GatewayOptions) *Gateway {
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(opts.Timeout)
	}
	return &Gateway{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: client,
		retry:      NewRetryStrategy(opts.Retry),
		breakerCfg: opts.Breaker,
		breakers:   make(map[string]*CircuitBreaker),
	}
}

// Scrape fetches a business website
func (g *Gateway) Scrape(ctx context.Context, url string) (Document, error) {
	var doc Document
	err := g.call(ctx, NameScraper, "scrape", map[string]any{"url": url}, &doc)
	return doc, err
}

// Rankings reports search positions of domain for keywords
func (g *Gateway) Rankings(ctx context.Context, domain string, keywords []string) (Document, error) {
	var doc Document
	err := g.call(ctx, NameSEO, "rankings", map[string]any{
		"domain":   domain,
		"keywords": keywords,
	}, &doc)
	return doc, err
}

// Discover lists events near a point
func (g *Gateway) Discover(ctx context.Context, lat, lng float64) (Document, error) {
	var doc Document
	err := g.call(ctx, NameEvents, "discover", map[string]any{"lat": lat, "lng": lng}, &doc)
	return doc, err
}

// Photos lists listing photos of a place
func (g *Gateway) Photos(ctx context.Context, placeID string) (Document, error) {
	var doc Document
	err := g.call(ctx, NamePlaces, "photos", map[string]any{"place_id": placeID}, &doc)
	return doc, err
}

// BusyTimes returns the popular-times histogram of a place
func (g *Gateway) BusyTimes(ctx context.Context, placeID string) (Document, error) {
	var doc Document
	err := g.call(ctx, NamePlaces, "busy-times", map[string]any{"place_id": placeID}, &doc)
	return doc, err
}

// Forecast returns the weather at a point
func (g *Gateway) Forecast(ctx context.Context, lat, lng float64) (Document, error) {
	var doc Document
	err := g.call(ctx, NameWeather, "forecast", map[string]any{"lat": lat, "lng": lng}, &doc)
	return doc, err
}

// Tips asks for n short tips
func (g *Gateway) Tips(ctx context.Context, prompt string, n int) ([]string, error) {
	var out struct {
		Tips []string `json:"tips"`
	}
	if err := g.call(ctx, NameGenerative, "tips", map[string]any{"prompt": prompt, "n": n}, &out); err != nil {
		return nil, err
	}
	if len(out.Tips) > n {
		out.Tips = out.Tips[:n]
	}
	return out.Tips, nil
}

// Summarize asks for a short summary
func (g *Gateway) Summarize(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	if err := g.call(ctx, NameGenerative, "summarize", map[string]any{"prompt": prompt}, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// Breaker returns the circuit breaker of a provider
func (g *Gateway) Breaker(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(g.breakerCfg)
		g.breakers[name] = cb
	}
	return cb
}

// call posts body to /v1/<provider>/<op> and decodes the response into out,
// retrying transient failures
func (g *Gateway) call(ctx context.Context, name, op string, body any, out any) error {
	cb := g.Breaker(name)
	if !cb.Allow() {
		slog.Warn("Circuit breaker is open, skipping provider call",
			"provider", name,
			"op", op,
			"circuit_state", cb.State().String(),
		)
		return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", name, err)
	}
	url := g.baseURL + "/v1/" + name + "/" + op

	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts(); attempt++ {
		status, data, err := g.do(ctx, url, payload)
		if err == nil && status >= 200 && status < 300 {
			cb.Success()
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", name, err)
			}
			return nil
		}

		if err != nil {
			lastErr = fmt.Errorf("%s request failed: %w", name, err)
		} else {
			lastErr = &StatusError{Provider: name, StatusCode: status, Body: string(data)}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !g.retry.ShouldRetry(attempt, status, err) {
			break
		}

		delay := g.retry.Delay(attempt)
		slog.Warn("Provider call failed, retrying",
			"provider", name,
			"op", op,
			"attempt", attempt,
			"status_code", status,
			"next_retry_ms", delay.Milliseconds(),
			"error", lastErr,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cb.Failure()
	slog.Error("Provider call failed", "provider", name, "op", op, "error", lastErr)
	return lastErr
}

// do performs a single attempt
func (g *Gateway) do(ctx context.Context, url string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
