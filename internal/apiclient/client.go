package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is used when no backend URL is configured.
	DefaultBaseURL = "http://localhost:8000"
	// HealthPath is the JHA health endpoint relative to the base URL.
	HealthPath = "/api/v1/jha/health"

	defaultMaxBytes int64 = 1 << 20
	errorBodyLimit        = 256
)

// Client calls the backend health endpoint.
type Client struct {
	baseURL  string
	endpoint string
	origin   string
	timeout  time.Duration
	maxBytes int64
	client   *retryablehttp.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithOrigin makes the client behave like a browser page served from origin:
// the Origin header is sent and the response must allow it.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	}
}

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithMaxBytes caps the accepted response size.
func WithMaxBytes(maxBytes int64) Option {
	return func(c *Client) {
		if maxBytes > 0 {
			c.maxBytes = maxBytes
		}
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client.HTTPClient = httpClient
		}
	}
}

// New builds a Client for the given backend base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("invalid base url: must include scheme and host")
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 0
	httpClient.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.Logger = nil
	httpClient.HTTPClient = &http.Client{}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: defaultMaxBytes,
		client:   httpClient,
	}
	c.endpoint = c.baseURL + HealthPath

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Endpoint returns the full health URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CheckJHAHealth performs a single GET against the health endpoint. There is no retry.
// Context cancellation is returned as-is; every other failure is a *NetworkOrServerError.
func (c *Client) CheckJHAHealth(ctx context.Context) (HealthCheckResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return HealthCheckResult{}, &NetworkOrServerError{Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return HealthCheckResult{}, context.Canceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			message := "health check timed out"
			if c.timeout > 0 {
				message = fmt.Sprintf("health check timed out after %s", c.timeout)
			}
			return HealthCheckResult{}, &NetworkOrServerError{Message: message, Err: err}
		}
		return HealthCheckResult{}, &NetworkOrServerError{
			Message: fmt.Sprintf("failed to fetch %s: %v", c.endpoint, unwrapURLError(err)),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if err := c.checkCORS(resp); err != nil {
		return HealthCheckResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		message := fmt.Sprintf("API error: %s", resp.Status)
		if text := strings.TrimSpace(string(excerpt)); text != "" {
			message = fmt.Sprintf("%s (%s)", message, text)
		}
		return HealthCheckResult{}, &NetworkOrServerError{Message: message, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return HealthCheckResult{}, ctxErr
		}
		return HealthCheckResult{}, &NetworkOrServerError{Message: fmt.Sprintf("read health response: %v", err), Err: err}
	}
	if int64(len(body)) > c.maxBytes {
		return HealthCheckResult{}, &NetworkOrServerError{Message: fmt.Sprintf("health response exceeds %d bytes", c.maxBytes)}
	}

	var result HealthCheckResult
	if err := json.Unmarshal(body, &result); err != nil {
		return HealthCheckResult{}, &NetworkOrServerError{Message: fmt.Sprintf("decode health response: %v", err), Err: err}
	}
	return result, nil
}

func (c *Client) checkCORS(resp *http.Response) error {
	if c.origin == "" {
		return nil
	}
	allowed := strings.TrimSpace(resp.Header.Get("Access-Control-Allow-Origin"))
	if allowed == "*" || strings.TrimRight(allowed, "/") == c.origin {
		return nil
	}
	if allowed == "" {
		return &NetworkOrServerError{
			Message:    fmt.Sprintf("CORS policy: no Access-Control-Allow-Origin header for origin %s", c.origin),
			StatusCode: resp.StatusCode,
		}
	}
	return &NetworkOrServerError{
		Message:    fmt.Sprintf("CORS policy: origin %s not allowed (Access-Control-Allow-Origin: %s)", c.origin, allowed),
		StatusCode: resp.StatusCode,
	}
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
