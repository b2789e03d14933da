package crossref

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/crossref-ingest/internal/domain"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := HTTPClientConfig{
			Timeout:    15 * time.Second,
			RateLimit:  5,
			BurstSize:  3,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
			UserAgent:  "TestAgent/1.0",
			PlusToken:  "plus-token",
		}

		client := NewHTTPClient(cfg)

		require.NotNil(t, client)
		require.NotNil(t, client.client)
		require.NotNil(t, client.rateLimiter)
		assert.Equal(t, 15*time.Second, client.client.Timeout)
		assert.Equal(t, cfg.UserAgent, client.config.UserAgent)
		assert.Equal(t, cfg.PlusToken, client.config.PlusToken)
		assert.Equal(t, cfg.MaxRetries, client.config.MaxRetries)
	})

	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		require.NotNil(t, client)
		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "crossref-ingest/1.0", client.config.UserAgent)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.Equal(t, time.Second, client.config.RetryDelay)
		assert.Equal(t, float64(2), client.config.RateLimit)
		assert.Equal(t, 2, client.config.BurstSize)
	})
}

func TestHTTPClientDo(t *testing.T) {
	newClient := func(maxRetries int) *HTTPClient {
		return NewHTTPClient(HTTPClientConfig{
			Timeout:    5 * time.Second,
			RateLimit:  1000,
			BurstSize:  1000,
			MaxRetries: maxRetries,
			RetryDelay: 5 * time.Millisecond,
			UserAgent:  "TestAgent/1.0",
		})
	}

	t.Run("sets default headers", func(t *testing.T) {
		var userAgent, plusToken string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userAgent = r.Header.Get("User-Agent")
			plusToken = r.Header.Get("Crossref-Plus-API-Token")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  1000,
			BurstSize:  1000,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
			UserAgent:  "TestAgent/1.0",
			PlusToken:  "secret",
		})

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "TestAgent/1.0", userAgent)
		assert.Equal(t, "Bearer secret", plusToken)
	})

	t.Run("retries on 429 then succeeds", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := newClient(2).Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("returns rate limit error after exhausting retries", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = newClient(2).Do(req)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRateLimited)

		var rlErr *domain.RateLimitError
		require.ErrorAs(t, err, &rlErr)
		assert.Equal(t, "CrossRef", rlErr.Source)
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("retries on 5xx and reports unavailability", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = newClient(1).Do(req)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("does not retry on 4xx other than 429", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := newClient(3).Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("honours context cancellation during retry wait", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		start := time.Now()
		_, err = newClient(3).Do(req)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestGetRetryDelay(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{RetryDelay: 2 * time.Second})

	tests := []struct {
		name       string
		retryAfter string
		attempt    int
		want       time.Duration
	}{
		{"no header backs off from the configured delay", "", 0, 2 * time.Second},
		{"no header doubles per attempt", "", 2, 8 * time.Second},
		{"seconds value wins over backoff", "7", 3, 7 * time.Second},
		{"zero seconds falls back to backoff", "0", 1, 4 * time.Second},
		{"unparsable falls back to backoff", "soon", 0, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}
			assert.Equal(t, tt.want, client.getRetryDelay(resp, tt.attempt))
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{RetryDelay: time.Second})

	assert.Equal(t, time.Second, client.backoffDelay(0))
	assert.Equal(t, 2*time.Second, client.backoffDelay(1))
	assert.Equal(t, 16*time.Second, client.backoffDelay(4))
	assert.Equal(t, maxRetryBackoff, client.backoffDelay(5), "delay is capped")
	assert.Equal(t, maxRetryBackoff, client.backoffDelay(200), "huge attempt counts do not overflow")
}
