package crossref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/crossref-ingest/internal/domain"
)

// maxRetryBackoff caps the exponential retry delay for a single request.
const maxRetryBackoff = 30 * time.Second

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the maximum number of retry attempts per request.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// PlusToken is an optional CrossRef Metadata Plus token.
	PlusToken string
}

// HTTPClient wraps http.Client with rate limiting and retries.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with rate limiting.
// The client applies rate limiting before each request attempt and retries
// on 429 (Too Many Requests) and 5xx server errors, honouring Retry-After.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 2
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 2
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "crossref-ingest/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// Do executes an HTTP request with rate limiting and retries.
// It waits for the rate limiter before each attempt, sets the User-Agent
// and optional Plus token headers, and retries on 429 with Retry-After
// support and on 5xx server errors.
//
// When every retry of a rate-limited request is exhausted, the returned
// error matches domain.ErrRateLimited so callers can classify the failure.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.PlusToken != "" {
		req.Header.Set("Crossref-Plus-API-Token", "Bearer "+c.config.PlusToken)
	}

	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < c.config.MaxRetries {
				if err := c.waitForRetry(req.Context(), c.backoffDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if !c.shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		retryDelay := c.getRetryDelay(resp, attempt)

		// Drain the body so the connection can be reused for the retry.
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt < c.config.MaxRetries {
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			if err := c.waitForRetry(req.Context(), retryDelay); err != nil {
				return nil, err
			}
			continue
		}

		if lastStatus == http.StatusTooManyRequests {
			return nil, domain.NewRateLimitError("CrossRef", retryDelay)
		}
		return nil, domain.NewExternalAPIError(
			"CrossRef",
			lastStatus,
			fmt.Sprintf("retries exhausted after %d attempts", c.config.MaxRetries+1),
			domain.ErrServiceUnavailable,
		)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// shouldRetry returns true if the status code indicates we should retry.
func (c *HTTPClient) shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// getRetryDelay determines how long to wait before retrying.
// It respects the Retry-After header if present, otherwise falls back to
// exponential backoff keyed on the attempt number.
func (c *HTTPClient) getRetryDelay(resp *http.Response, attempt int) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.backoffDelay(attempt)
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.backoffDelay(attempt)
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return c.backoffDelay(attempt)
}

// backoffDelay doubles the configured retry delay for each failed attempt,
// capped at maxRetryBackoff.
func (c *HTTPClient) backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 62 {
		return maxRetryBackoff
	}
	delay := c.config.RetryDelay << uint(attempt)
	if delay <= 0 || delay > maxRetryBackoff {
		return maxRetryBackoff
	}
	return delay
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func (c *HTTPClient) waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
