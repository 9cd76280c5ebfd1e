package jira

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// transportConfig configures the rate limited, retrying HTTP transport.
type transportConfig struct {
	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
	Username   string
	Password   string
}

// transport wraps http.Client with basic auth, rate limiting and retries.
// It is safe for concurrent use.
type transport struct {
	client  *http.Client
	limiter *rate.Limiter
	config  transportConfig
}

func newTransport(cfg transportConfig) *transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = int(cfg.RateLimit)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Recontact-Service/1.0"
	}

	return &transport{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		config:  cfg,
	}
}

// Do executes req, waiting for the rate limiter before each attempt. It retries
// network errors, 429 (honoring Retry-After) and 5xx responses. Requests with a
// body must have GetBody set to be retried.
func (t *transport) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	if t.config.Username != "" {
		req.SetBasicAuth(t.config.Username, t.config.Password)
	}

	var lastErr error
	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < t.config.MaxRetries {
				if err := t.waitForRetry(req.Context(), t.config.RetryDelay); err != nil {
					return nil, err
				}
				if err := resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, lastErr
		}

		if !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		delay := t.retryDelay(resp)
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt == t.config.MaxRetries {
			return nil, &retriesExhaustedError{attempts: attempt + 1, status: resp.StatusCode}
		}

		lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		if err := t.waitForRetry(req.Context(), delay); err != nil {
			return nil, err
		}
		if err := resetRequestBody(req); err != nil {
			return nil, fmt.Errorf("cannot retry request: %w", err)
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// retriesExhaustedError carries the status of the last retried response.
type retriesExhaustedError struct {
	attempts int
	status   int
}

func (e *retriesExhaustedError) Error() string {
	return fmt.Sprintf("max retries exhausted after %d attempts, last status: %d", e.attempts, e.status)
}

func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// retryDelay honors Retry-After in seconds or as an HTTP date.
func (t *transport) retryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return t.config.RetryDelay
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return t.config.RetryDelay
	}

	if at, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}

	return t.config.RetryDelay
}

func (t *transport) waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
