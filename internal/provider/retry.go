package provider

import (
	"math"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// setDefaults fills zero values
func (c *RetryConfig) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
}

// RetryStrategy handles exponential backoff retry logic
type RetryStrategy struct {
	config RetryConfig
}

// NewRetryStrategy creates a new retry strategy
func NewRetryStrategy(config RetryConfig) *RetryStrategy {
	config.setDefaults()
	return &RetryStrategy{config: config}
}

// Delay returns the wait before the attempt after attempt.
// delay = min(initial * multiplier^(attempt-1), max)
func (rs *RetryStrategy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(rs.config.InitialDelay) * math.Pow(rs.config.Multiplier, float64(attempt-1))
	if d > float64(rs.config.MaxDelay) {
		d = float64(rs.config.MaxDelay)
	}
	return time.Duration(d)
}

// ShouldRetry reports whether another attempt is worthwhile.
// Transport errors, 5xx and 429 are retried; other 4xx are not.
func (rs *RetryStrategy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= rs.config.MaxAttempts {
		return false
	}
	if err != nil {
		return true
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	case statusCode >= 400:
		return false
	default:
		return statusCode >= 300
	}
}

// MaxAttempts returns the attempt budget
func (rs *RetryStrategy) MaxAttempts() int {
	return rs.config.MaxAttempts
}
