// Package api issues single and bulk requests against the issue-tracking REST
// API. Mutating operations apply their optimistic effect to the group store
// before any network I/O and reconcile or roll it back when the response
// arrives.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dusk-indust/triage/internal/logging"
	"github.com/dusk-indust/triage/internal/request"
	"github.com/dusk-indust/triage/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Dispatcher receives optimistic and reconciliation commands. *store.Store
// implements it.
type Dispatcher interface {
	Dispatch(cmd store.Command) []string
}

// Client talks to the REST API and keeps a Dispatcher in sync with it.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	store       Dispatcher
	newID       func() string
	reporter    store.Reporter
	logger      *slog.Logger
	concurrency int

	mu       sync.Mutex
	inflight map[string]*request.Request

	groupFetches singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithIDGenerator overrides how correlation ids are generated.
func WithIDGenerator(fn func() string) ClientOption {
	return func(c *Client) {
		c.newID = fn
	}
}

// WithReporter sets the collaborator that receives malformed input.
func WithReporter(r store.Reporter) ClientOption {
	return func(c *Client) {
		c.reporter = r
	}
}

// WithConcurrency bounds parallel fetches in RefreshGroups.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient creates a client for the API rooted at baseURL (for example
// "https://sentry.example.com/api/0"). The dispatcher may be nil when only
// Request, GetJSON and Unmerge are used.
func NewClient(baseURL string, dispatcher Dispatcher, opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		store:       dispatcher,
		newID:       uuid.NewString,
		logger:      logging.NewDiscardLogger(),
		concurrency: 4,
		inflight:    make(map[string]*request.Request),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = store.LogReporter{Logger: c.logger}
	}
	return c
}

// RequestOptions describes one call made through Request.
type RequestOptions struct {
	Method string // defaults to GET
	Data   any    // JSON-encoded as the request body when non-nil
	Query  url.Values

	OnSuccess  func(*request.Result)
	OnError    func(error)
	OnComplete func()
}

// Request issues a single call and returns its handle immediately. The
// handle's ID is a fresh correlation id.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) *request.Request {
	return c.start(ctx, c.newID(), path, opts)
}

// start registers and launches a request under a caller-chosen id.
func (c *Client) start(ctx context.Context, id, path string, opts RequestOptions) *request.Request {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.buildURL(path, opts.Query)

	var body []byte
	var bodyErr error
	if opts.Data != nil {
		body, bodyErr = json.Marshal(opts.Data)
		if bodyErr != nil {
			bodyErr = fmt.Errorf("api: marshal body: %w", bodyErr)
		}
	}

	c.logger.Debug("api: request", "id", id, "method", method, "path", path)

	transport := func(ctx context.Context) (*request.Result, error) {
		if bodyErr != nil {
			return nil, bodyErr
		}
		return c.do(ctx, method, path, target, body)
	}

	r := request.Start(ctx, id, transport, request.Callbacks{
		OnSuccess:  opts.OnSuccess,
		OnError:    opts.OnError,
		OnComplete: opts.OnComplete,
	})

	c.mu.Lock()
	c.inflight[id] = r
	c.mu.Unlock()
	go func() {
		<-r.Done()
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	return r
}

// buildURL joins base, path and the encoded query.
func (c *Client) buildURL(path string, query url.Values) string {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// do performs the HTTP round trip.
func (c *Client) do(ctx context.Context, method, path, target string, body []byte) (*request.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ResponseError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       respBody,
		}
	}

	return &request.Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Clear aborts every in-flight request. Aborted requests fire no callbacks,
// so optimistic changes they applied stay until the caller rolls them back.
func (c *Client) Clear() {
	c.mu.Lock()
	reqs := make([]*request.Request, 0, len(c.inflight))
	for _, r := range c.inflight {
		reqs = append(reqs, r)
	}
	c.mu.Unlock()

	for _, r := range reqs {
		r.Abort()
	}
}

// InFlight returns the number of requests that have not settled.
func (c *Client) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// dispatch forwards cmd when a dispatcher is configured.
func (c *Client) dispatch(cmd store.Command) []string {
	if c.store == nil {
		return nil
	}
	return c.store.Dispatch(cmd)
}

// ResponseError is returned for responses with a 4xx or 5xx status.
type ResponseError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if d := e.Detail(); d != "" {
		return fmt.Sprintf("api: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, d)
	}
	return fmt.Sprintf("api: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

// Detail returns the "detail" field of a JSON error body, if any.
func (e *ResponseError) Detail() string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(e.Body, &payload); err != nil {
		return ""
	}
	return payload.Detail
}
