package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
)

const (
	// maxResponseBytes caps decoded response bodies.
	maxResponseBytes = 10 << 20

	// maxErrorBytes caps error bodies kept in ExternalAPIError messages.
	maxErrorBytes = 1 << 20
)

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Provider is the provider id used in errors and metric labels.
	Provider string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key", "Authorization").
	APIKeyHeader string

	// Metrics receives per-request metrics when set.
	Metrics *observability.Metrics
}

// HTTPClient wraps http.Client with retries. Admission control is the
// governor's job, so the client does not rate limit on its own.
// It is safe for concurrent use.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client that retries on 429 (Too Many
// Requests) and 5xx server errors.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "LumenSearch/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
	}
}

// Do executes an HTTP request with retries. It sets the User-Agent and
// optional API key headers, and retries on 429 with Retry-After support and
// on 5xx server errors.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < c.config.MaxRetries {
				if err := c.waitForRetry(req.Context(), c.config.RetryDelay); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, lastErr
		}

		if c.shouldRetry(resp.StatusCode) {
			retryDelay := c.getRetryDelay(resp)

			if resp.Body != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}

			if resp.StatusCode == http.StatusTooManyRequests && c.config.Metrics != nil {
				c.config.Metrics.RecordProviderRateLimited(c.config.Provider)
			}

			if attempt < c.config.MaxRetries {
				lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
				if err := c.waitForRetry(req.Context(), retryDelay); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}

			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, domain.NewRateLimitError(c.config.Provider, retryDelay)
			}
			return nil, domain.NewExternalAPIError(c.config.Provider, resp.StatusCode,
				fmt.Sprintf("max retries exhausted after %d attempts", c.config.MaxRetries+1), nil)
		}

		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// GetJSON issues a GET request and decodes a 200 response into out.
// A 404 becomes a *domain.NotFoundError for notFoundID; any other non-200
// status becomes a *domain.ExternalAPIError. endpoint labels metrics.
func (c *HTTPClient) GetJSON(ctx context.Context, endpoint, rawURL, notFoundID string, out any) error {
	body, err := c.get(ctx, endpoint, rawURL, notFoundID)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(io.LimitReader(body, maxResponseBytes)).Decode(out); err != nil {
		c.recordFailure(endpoint, "decode")
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// GetBody issues a GET request and returns the body of a 200 response,
// capped at maxResponseBytes. Status handling matches GetJSON.
func (c *HTTPClient) GetBody(ctx context.Context, endpoint, rawURL, notFoundID string) ([]byte, error) {
	body, err := c.get(ctx, endpoint, rawURL, notFoundID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxResponseBytes))
	if err != nil {
		c.recordFailure(endpoint, "read")
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint, rawURL, notFoundID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	start := time.Now()
	resp, err := c.Do(req)
	if c.config.Metrics != nil {
		c.config.Metrics.RecordProviderRequest(c.config.Provider, endpoint, time.Since(start).Seconds())
	}
	if err != nil {
		c.recordFailure(endpoint, errorType(err))
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && notFoundID != "" {
		resp.Body.Close()
		c.recordFailure(endpoint, "not_found")
		return nil, domain.NewNotFoundError("document", notFoundID)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		resp.Body.Close()
		c.recordFailure(endpoint, "status_"+strconv.Itoa(resp.StatusCode))
		return nil, domain.NewExternalAPIError(c.config.Provider, resp.StatusCode, string(data), nil)
	}
	return resp.Body, nil
}

func (c *HTTPClient) recordFailure(endpoint, kind string) {
	if c.config.Metrics != nil {
		c.config.Metrics.RecordProviderRequestFailed(c.config.Provider, endpoint, kind)
	}
}

func errorType(err error) string {
	var rl *domain.RateLimitError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &rl):
		return "rate_limited"
	default:
		return "network"
	}
}

// shouldRetry returns true if the status code indicates we should retry.
func (c *HTTPClient) shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// getRetryDelay determines how long to wait before retrying.
// It respects the Retry-After header if present, otherwise uses the configured retry delay.
func (c *HTTPClient) getRetryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		delay := time.Until(t)
		if delay > 0 {
			return delay
		}
	}

	return c.config.RetryDelay
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

// resetRequestBody resets the request body for retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
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
