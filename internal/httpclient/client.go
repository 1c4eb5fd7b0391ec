// Package httpclient provides the HTTP transport used to talk to the exam analysis backend.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/examsight/examsync/internal/otel"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retries for idempotent requests
	DefaultMaxRetries = 3

	// MaxResponseSize is the maximum allowed response size (32MB)
	MaxResponseSize = 32 * 1024 * 1024

	// DefaultUserAgent is the user agent string for HTTP requests
	DefaultUserAgent = "examsync/dev"

	// RequestIDHeader carries a unique id per request for server-side correlation
	RequestIDHeader = "X-Request-Id"

	tracerName = "github.com/examsight/examsync/httpclient"
)

// TokenSource supplies the bearer token attached to every request.
// An empty token means the request is sent unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Request describes a single call against the backend
type Request struct {
	// Method is the HTTP method
	Method string

	// Path is relative to the client base URL (e.g. "/exams/123")
	Path string

	// Query is appended to the URL when non-empty
	Query url.Values

	// Body is the raw request body; ContentType must be set with it
	Body        []byte
	ContentType string
}

// Client performs requests against the backend and decodes JSON responses
type Client struct {
	baseURL    string
	client     *http.Client
	tokens     TokenSource
	userAgent  string
	maxRetries int
	backoff    func() backoff.BackOff
	tracer     trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.client = c
		}
	}
}

// WithTimeout sets the per-request timeout. Zero keeps DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(cl *Client) {
		if timeout > 0 {
			cl.client.Timeout = timeout
		}
	}
}

// WithTokenSource sets where the bearer token comes from
func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) {
		cl.tokens = ts
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithMaxRetries sets how often idempotent requests are retried
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		if n >= 0 {
			cl.maxRetries = n
		}
	}
}

// WithBackOff overrides the retry backoff policy (mostly for tests)
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(cl *Client) {
		cl.backoff = factory
	}
}

// WithTracerProvider enables request spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) {
		if tp != nil {
			cl.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a client for the given base URL (including the API prefix, e.g. https://host/api/v1)
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	c := &Client{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: DefaultTimeout},
		userAgent:  DefaultUserAgent,
		maxRetries: DefaultMaxRetries,
		backoff:    defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DoJSON sends an optional JSON body and decodes the JSON response into out (if non-nil)
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req := &Request{Method: method, Path: path, Query: query}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = body
		req.ContentType = "application/json"
	}
	return c.Do(ctx, req, out)
}

// Do executes the request and decodes the JSON response into out (if non-nil).
// Only GET requests are retried; other methods surface their first failure so
// callers can decide how to treat an ambiguous outcome.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	ctx, span := otel.StartSpan(ctx, c.tracer, "httpclient."+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			otel.AttrHTTPMethod.String(req.Method),
			otel.AttrHTTPRoute.String(req.Path),
		),
	)
	defer span.End()

	maxTries := uint(1)
	if req.Method == http.MethodGet {
		maxTries = uint(c.maxRetries) + 1
	}

	attempt := 0
	var lastErr error
	payload, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		body, err := c.send(ctx, req, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if !httpErr.Retryable() {
				return nil, backoff.Permanent(err)
			}
			if httpErr.RetryAfter > 0 {
				return nil, backoff.RetryAfter(int(httpErr.RetryAfter.Seconds()))
			}
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(maxTries))
	span.SetAttributes(otel.AttrHTTPAttempts.Int(attempt))
	if err != nil {
		var retryAfter *backoff.RetryAfterError
		if errors.As(err, &retryAfter) && lastErr != nil {
			err = lastErr
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			span.SetAttributes(otel.AttrHTTPStatus.Int(httpErr.StatusCode))
		}
		otel.RecordError(span, err)
		return err
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to decode response from %s %s: %w", req.Method, req.Path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, r *Request, attempt int) ([]byte, error) {
	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to obtain auth token: %w", err))
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	otelapi.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	slog.DebugContext(ctx, "Sending request",
		"method", r.Method,
		"path", r.Path,
		"attempt", attempt,
		"request_id", req.Header.Get(RequestIDHeader))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.ContentLength > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize))
	}

	// +1 to detect if limit exceeded
	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(payload)) > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize))
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return payload, nil
	}

	httpErr := NewHTTPError(resp.StatusCode, r.Method, r.Path, resp.Status)
	if len(payload) > 0 && gjson.ValidBytes(payload) {
		httpErr.Message = firstNonEmpty(payload, "message", "detail", "error.message", "error", resp.Status)
		httpErr.Code = firstNonEmpty(payload, "code", "error.code", "")
	}
	httpErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	return nil, httpErr
}

// firstNonEmpty returns the first string value found at the given gjson paths.
// The last argument is the fallback.
func firstNonEmpty(payload []byte, pathsAndFallback ...string) string {
	paths := pathsAndFallback[:len(pathsAndFallback)-1]
	for _, p := range paths {
		res := gjson.GetBytes(payload, p)
		if res.Exists() && res.Type == gjson.String && res.String() != "" {
			return res.String()
		}
	}
	return pathsAndFallback[len(pathsAndFallback)-1]
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}
