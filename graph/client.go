package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaydesk/graphgate/logger"
)

// DefaultBaseURL is the provider's API host.
const DefaultBaseURL = "https://graph.microsoft.com"

// DefaultAPIVersion is the latest stable API version.
const DefaultAPIVersion = "v1.0"

// DefaultClientTimeout bounds a single raw HTTP request.
const DefaultClientTimeout = 30 * time.Second

// maxResponseBodySize limits response body reads to prevent OOM from
// oversized responses.
const maxResponseBodySize = int64(4 << 20) // 4MB

// validationProbePath is the minimal self-identifying read used to check
// that a credential is currently accepted. Application tokens have no
// /me, so the tenant organization record stands in for "who am I".
const validationProbePath = "/organization?$select=id"

// Response is a successful provider response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Requester is the request-issuing surface shared by the raw Client and
// the retry-wrapped ResilientClient, so domain services can accept either.
type Requester interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body interface{}) (*Response, error)
	Put(ctx context.Context, path string, body interface{}) (*Response, error)
	Patch(ctx context.Context, path string, body interface{}) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)
}

// ClientOptions configures a client built by the factory.
type ClientOptions struct {
	// Scopes requested for the bearer token. Defaults to DefaultScope.
	Scopes []string

	// Version selects the API version path segment. Defaults to v1.0.
	Version string

	// Timeout bounds each raw HTTP request. Defaults to 30s.
	Timeout time.Duration

	// BaseURL overrides the provider host. Defaults to the public Graph
	// endpoint; tests point it at a local server.
	BaseURL string

	// RequestsPerSecond enables a client-side outbound throttle when
	// positive. Zero leaves requests unthrottled.
	RequestsPerSecond float64

	// Retry tunes the retry engine for clients built with retry.
	Retry RetryOptions
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Version == "" {
		o.Version = DefaultAPIVersion
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultClientTimeout
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	return o
}

// Client issues raw provider requests with a fixed bearer credential. It
// performs no retries; build it through the factory's CreateClientWithRetry
// unless raw access is genuinely needed.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

var _ Requester = (*Client)(nil)

func newClient(token string, opts ClientOptions, log logger.Logger) (*Client, error) {
	opts = opts.withDefaults()
	if token == "" {
		return nil, fmt.Errorf("bearer token is required")
	}
	if log == nil {
		log = logger.New(logger.TestConfig())
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/") + "/" + opts.Version,
		token:      token,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		logger:     log.WithSubsystem("graph.client"),
	}, nil
}

// do issues one request. Non-success statuses are decoded into *APIError
// carrying the provider error code and the response headers.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	respBody, bodyErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if bodyErr != nil {
			return nil, fmt.Errorf("%s %s: status %d but failed to read body: %w", method, path, resp.StatusCode, bodyErr)
		}
		return &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header}, nil
	}

	apiErr := newAPIError(resp.StatusCode, respBody, resp.Header)
	c.logger.Debug("request failed",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.String("code", apiErr.Code),
	)
	return nil, apiErr
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// ResilientClient decorates a Client so every verb runs through the retry
// engine. It is an explicit wrapper type rather than runtime mutation of
// the inner client; both satisfy Requester.
type ResilientClient struct {
	inner  *Client
	engine *RetryEngine
	opts   RetryOptions
}

var _ Requester = (*ResilientClient)(nil)

// NewResilientClient wraps an existing raw client.
func NewResilientClient(inner *Client, engine *RetryEngine, opts RetryOptions) *ResilientClient {
	return &ResilientClient{inner: inner, engine: engine, opts: opts}
}

// Inner exposes the wrapped raw client.
func (c *ResilientClient) Inner() *Client {
	return c.inner
}

func (c *ResilientClient) Get(ctx context.Context, path string) (*Response, error) {
	return ExecuteWithRetry(ctx, c.engine, func(ctx context.Context) (*Response, error) {
		return c.inner.Get(ctx, path)
	}, c.opts)
}

func (c *ResilientClient) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return ExecuteWithRetry(ctx, c.engine, func(ctx context.Context) (*Response, error) {
		return c.inner.Post(ctx, path, body)
	}, c.opts)
}

func (c *ResilientClient) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return ExecuteWithRetry(ctx, c.engine, func(ctx context.Context) (*Response, error) {
		return c.inner.Put(ctx, path, body)
	}, c.opts)
}

func (c *ResilientClient) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return ExecuteWithRetry(ctx, c.engine, func(ctx context.Context) (*Response, error) {
		return c.inner.Patch(ctx, path, body)
	}, c.opts)
}

func (c *ResilientClient) Delete(ctx context.Context, path string) (*Response, error) {
	return ExecuteWithRetry(ctx, c.engine, func(ctx context.Context) (*Response, error) {
		return c.inner.Delete(ctx, path)
	}, c.opts)
}
