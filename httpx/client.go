package httpx

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-Id"

// Request is the outgoing request handed to interceptors.
type Request = resty.Request

// RestClient exposes a minimal subset of resty.Client for customization without importing resty.
type RestClient interface {
	SetHeader(key, value string) RestClient
	SetHeaders(headers map[string]string) RestClient
	SetTimeout(d time.Duration) RestClient
}

type restyAdapter struct{ c *resty.Client }

func (r restyAdapter) SetHeader(key, value string) RestClient {
	r.c.SetHeader(key, value)
	return r
}

func (r restyAdapter) SetHeaders(headers map[string]string) RestClient {
	r.c.SetHeaders(headers)
	return r
}

func (r restyAdapter) SetTimeout(d time.Duration) RestClient {
	r.c.SetTimeout(d)
	return r
}

// Client sends JSON requests through the interceptor pipeline: request id,
// bearer token, caller interceptors, then classification of failures into
// *Error and the 401 hook. It is safe for concurrent use.
type Client struct {
	resty  *resty.Client
	cfg    ClientOptions
	logger zerolog.Logger

	mu      sync.Mutex
	timings map[string]time.Duration
}

func NewClient(opts ...ClientOption) *Client {
	cfg := defaultClientOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rc := resty.New()
	if cfg.BaseURL != "" {
		rc.SetBaseURL(cfg.BaseURL)
	}
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if len(cfg.Headers) > 0 {
		rc.SetHeaders(cfg.Headers)
	}
	if cfg.RestyConfig != nil {
		cfg.RestyConfig(restyAdapter{rc})
	}

	c := &Client{
		resty:   rc,
		cfg:     cfg,
		logger:  cfg.Logger,
		timings: make(map[string]time.Duration),
	}
	rc.OnBeforeRequest(c.beforeRequest)
	if cfg.PerformanceTracking {
		rc.OnAfterResponse(c.trackResponse)
	}
	return c
}

type RequestOption func(*resty.Request)

// WithRequestHeaders sets headers on the underlying Resty request.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(headers) == 0 {
			return
		}
		r.SetHeaders(headers)
	}
}

// WithQuery sets query parameters on the request. Empty values are skipped.
func WithQuery(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		for k, v := range params {
			if v != "" {
				r.SetQueryParam(k, v)
			}
		}
	}
}

// WithBearer overrides the TokenStore token for one request.
func WithBearer(token string) RequestOption {
	return func(r *resty.Request) {
		token = strings.TrimSpace(token)
		if token != "" {
			r.SetHeader("Authorization", "Bearer "+token)
		}
	}
}

func (c *Client) Get(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodGet, path, nil, result, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodPost, path, body, result, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodPut, path, body, result, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodPatch, path, body, result, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.do(ctx, resty.MethodDelete, path, nil, result, opts...)
}

// HandlesUnauthorized reports whether a 401 already triggers an
// unauthorized handler inside the client.
func (c *Client) HandlesUnauthorized() bool { return c.cfg.OnUnauthorized != nil }

// Metrics returns the most recent duration observed per request path.
func (c *Client) Metrics() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Duration, len(c.timings))
	for k, v := range c.timings {
		out[k] = v
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		var he *Error
		if !errors.As(err, &he) {
			he = &Error{Kind: KindNetwork, Err: err}
		}
		he.Method, he.Path = method, path
		c.handleError(ctx, he)
		return resp, he
	}
	if resp.IsError() {
		he := &Error{
			Kind:   KindOf(resp.StatusCode()),
			Status: resp.StatusCode(),
			Method: method,
			Path:   path,
			Body:   resp.Body(),
		}
		c.handleError(ctx, he)
		return resp, he
	}
	return resp, nil
}

func (c *Client) beforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()
	if c.cfg.RequestID && req.Header.Get(HeaderRequestID) == "" {
		req.SetHeader(HeaderRequestID, uuid.NewString())
	}
	if c.cfg.TokenStore != nil && req.Header.Get("Authorization") == "" && c.resty.Header.Get("Authorization") == "" {
		token, err := c.cfg.TokenStore.Token(ctx)
		if err != nil {
			return &Error{Kind: KindSetup, Err: err}
		}
		if token = strings.TrimSpace(token); token != "" {
			req.SetHeader("Authorization", "Bearer "+token)
		}
	}
	for _, fn := range c.cfg.RequestInterceptors {
		if err := fn(ctx, req); err != nil {
			return &Error{Kind: KindSetup, Err: err}
		}
	}
	return nil
}

func (c *Client) trackResponse(_ *resty.Client, resp *resty.Response) error {
	path := requestPath(resp.Request.URL)
	d := resp.Time()
	c.mu.Lock()
	c.timings[path] = d
	c.mu.Unlock()

	c.logger.Debug().
		Str("method", resp.Request.Method).
		Str("path", path).
		Int("status", resp.StatusCode()).
		Str("request_id", resp.Request.Header.Get(HeaderRequestID)).
		Dur("duration", d).
		Msg("api request")
	return nil
}

func requestPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}

func (c *Client) handleError(ctx context.Context, he *Error) {
	ev := c.logger.Warn()
	switch he.Kind {
	case KindServer, KindNetwork:
		ev = c.logger.Error()
	}
	ev.Str("kind", he.Kind.String()).
		Str("signature", he.Signature()).
		Str("message", he.Message()).
		Err(he.Err).
		Msg("api error")

	if he.Kind == KindUnauthorized {
		if c.cfg.TokenStore != nil {
			if err := c.cfg.TokenStore.ClearToken(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("clear token after 401")
			}
		}
		if c.cfg.OnUnauthorized != nil {
			c.cfg.OnUnauthorized(ctx, c.cfg.LoginPath)
		}
	}
	for _, fn := range c.cfg.ErrorInterceptors {
		fn(ctx, he)
	}
}

// GetJSON issues a GET and decodes the JSON response into T.
func GetJSON[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	var out T
	_, err := c.Get(ctx, path, &out, opts...)
	return out, err
}

// PostJSON issues a POST with body and decodes the JSON response into T.
func PostJSON[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	var out T
	_, err := c.Post(ctx, path, body, &out, opts...)
	return out, err
}

func PutJSON[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	var out T
	_, err := c.Put(ctx, path, body, &out, opts...)
	return out, err
}

func PatchJSON[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	var out T
	_, err := c.Patch(ctx, path, body, &out, opts...)
	return out, err
}

func DeleteJSON[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	var out T
	_, err := c.Delete(ctx, path, &out, opts...)
	return out, err
}
