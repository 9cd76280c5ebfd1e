package jira

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransport_Defaults(t *testing.T) {
	tr := newTransport(transportConfig{})

	assert.Equal(t, DefaultTimeout, tr.client.Timeout)
	assert.Equal(t, DefaultRateLimit, tr.config.RateLimit)
	assert.Equal(t, 5, tr.config.BurstSize)
	assert.Equal(t, time.Second, tr.config.RetryDelay)
	assert.Equal(t, "Recontact-Service/1.0", tr.config.UserAgent)
}

func TestTransport_Do(t *testing.T) {
	t.Run("retries server errors and resends the body", func(t *testing.T) {
		var attempts int32
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := new(strings.Builder)
			_, _ = io.Copy(buf, r.Body)
			bodies = append(bodies, buf.String())
			if atomic.AddInt32(&attempts, 1) < 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		tr := newTransport(transportConfig{RateLimit: 100, MaxRetries: 2, RetryDelay: time.Millisecond})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, server.URL, strings.NewReader(`{"a":1}`))
		require.NoError(t, err)

		resp, err := tr.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
	})

	t.Run("honors Retry-After and gives up", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		tr := newTransport(transportConfig{RateLimit: 100, MaxRetries: 1, RetryDelay: time.Millisecond})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = tr.Do(req)
		var exhausted *retriesExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, http.StatusTooManyRequests, exhausted.status)
		assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		tr := newTransport(transportConfig{RateLimit: 100, MaxRetries: 3})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := tr.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		tr := newTransport(transportConfig{RateLimit: 100, MaxRetries: 3})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = tr.Do(req)
		assert.Error(t, err)
	})
}

func TestTransport_RetryDelay(t *testing.T) {
	tr := newTransport(transportConfig{RetryDelay: 250 * time.Millisecond})

	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, 250*time.Millisecond, tr.retryDelay(resp))

	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, tr.retryDelay(resp))

	resp.Header.Set("Retry-After", "garbage")
	assert.Equal(t, 250*time.Millisecond, tr.retryDelay(resp))
}
