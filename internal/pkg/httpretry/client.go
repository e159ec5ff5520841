// Package httpretry wraps an HTTP client with retries, exponential backoff
// and full jitter for calls to contact and CRM APIs.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// HTTPDoer executes HTTP requests. *http.Client and *RetryClient both
// satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures of the wrapped HTTPDoer.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option tunes a RetryClient.
type Option func(*RetryClient)

// WithBackoff overrides the base and maximum retry delay.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(rc *RetryClient) {
		rc.baseDelay = base
		rc.maxDelay = maxDelay
	}
}

// NewRetryClient wraps client, defaulting to an http.Client with a 30s
// timeout. maxRetries counts attempts after the first and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
	for _, o := range opts {
		o(rc)
	}
	return rc
}

// Do sends req, retrying 429 and 5xx gateway-class responses and network
// errors. Client errors and context cancellation are returned at once. The
// final attempt's response is returned as-is so callers can read the body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			logger.Debug("http retry", "attempt", attempt, "max", rc.maxRetries,
				"host", req.URL.Host, "path", req.URL.Path, "wait", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}
		if !retryable(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay is random(0, min(maxDelay, baseDelay*2^(attempt-1))) with a floor of
// a tenth of baseDelay.
func (rc *RetryClient) delay(attempt int) time.Duration {
	exp := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(rc.maxDelay) {
		exp = float64(rc.maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if floor := rc.baseDelay / 10; d < floor {
		d = floor
	}
	return d
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
