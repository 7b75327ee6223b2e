// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"resty.dev/v3"
)

// Configuration constants for the dashboard API.
const (
	// DefaultBaseURL is where a locally running dashboard backend listens.
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// RequestIDHeader carries a per-request correlation id.
	RequestIDHeader = "X-Request-ID"

	// maxErrorBody limits how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// Error variables for common backend failures.
var (
	// ErrNotConfigured indicates no backend URL is set.
	ErrNotConfigured = errors.New("backend URL not configured")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveProfile indicates no LLM profile is marked as default.
	ErrNoActiveProfile = errors.New("no active LLM profile")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status int
	Method string
	Path   string
	Detail string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend error (HTTP %d) %s %s: %s", e.Status, e.Method, e.Path, e.Detail)
	}
	return fmt.Sprintf("backend error (HTTP %d) %s %s", e.Status, e.Method, e.Path)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrNoActiveProfile:
		return e.Status == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(e.Detail), "no active llm config")
	}
	return false
}

// errorBody is the FastAPI error envelope. Detail is a string for raised
// HTTP errors and a list of objects for validation failures.
type errorBody struct {
	Detail  any    `json:"detail"`
	Message string `json:"message"`
}

func (b *errorBody) text() string {
	if b == nil {
		return ""
	}
	switch d := b.Detail.(type) {
	case nil:
		return b.Message
	case string:
		return d
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprint(d)
		}
		return string(raw)
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the dashboard backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	rest    *resty.Client
	stream  *resty.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
	logger  *zap.Logger
}

// WithTimeout sets the timeout for non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates a client for the backend rooted at baseURL, for example
// "http://localhost:8000/api".
func New(baseURL string, opts ...Option) *Client {
	o := clientOptions{timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c := &Client{
		baseURL: baseURL,
		logger:  o.logger.Named("backend"),
	}

	c.rest = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(o.timeout).
		SetHeader("Accept", "application/json")
	c.rest.AddResponseMiddleware(c.logResponse)

	// No timeout for streaming - controlled via context
	c.stream = resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache")
	c.stream.AddResponseMiddleware(c.logResponse)

	return c
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsConfigured returns true if a backend URL is set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	return errors.Join(c.rest.Close(), c.stream.Close())
}

// request starts a JSON request with a fresh correlation id.
func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, newRequestID()).
		SetError(&errorBody{})
}

func newRequestID() string {
	return uuid.NewString()
}

// logResponse logs method, path and status only. Bodies may hold personal
// finance data and are never logged.
func (c *Client) logResponse(_ *resty.Client, resp *resty.Response) error {
	if resp == nil || resp.Request == nil {
		return nil
	}
	c.logger.Debug("backend response",
		zap.String("method", resp.Request.Method),
		zap.String("url", resp.Request.URL),
		zap.Int("status", resp.StatusCode()),
		zap.String("request_id", resp.Request.Header.Get(RequestIDHeader)),
	)
	return nil
}

// do runs a prepared request and converts transport failures and non-2xx
// answers into errors.
func (c *Client) do(req *resty.Request, method, path string) (*resty.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return nil, c.apiError(resp, method, path)
	}
	return resp, nil
}

func (c *Client) apiError(resp *resty.Response, method, path string) error {
	apiErr := &APIError{
		Status: resp.StatusCode(),
		Method: method,
		Path:   path,
	}
	if body, ok := resp.Error().(*errorBody); ok {
		apiErr.Detail = body.text()
	}
	if apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(resp.String())
	}
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(apiErr.Status)
	}
	return apiErr
}

// streamError builds an APIError from an unparsed error response and closes
// its body.
func streamError(resp *resty.Response, method, path string) error {
	apiErr := &APIError{Status: resp.StatusCode(), Method: method, Path: path}
	if resp.RawResponse != nil && resp.RawResponse.Body != nil {
		defer resp.RawResponse.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.RawResponse.Body, maxErrorBody))
		var body errorBody
		if err := json.Unmarshal(raw, &body); err == nil {
			apiErr.Detail = body.text()
		}
		if apiErr.Detail == "" {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(apiErr.Status)
	}
	return apiErr
}
