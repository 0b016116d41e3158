package httpx

import (
	"context"
	"time"

	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// HTTPErrorHandler is a function that handles errors during request processing.
type HTTPErrorHandler func(error, Context)

type ServerOptions struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Middlewares  []MiddlewareFunc
	ErrorHandler HTTPErrorHandler
	Validators   []Validator
	CORS         *middleware.CORSConfig
	// Logger, when set, logs one structured line per request.
	Logger *zerolog.Logger
}

type ServerOption func(*ServerOptions)

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		Middlewares:  []MiddlewareFunc{RecoverMiddleware()},
		ErrorHandler: defaultHTTPErrorHandler,
	}
}

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr != "" {
			o.Address = addr
		}
	}
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

func WithMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append([]MiddlewareFunc{}, mw...)
		}
	}
}

// AppendMiddlewares appends additional middleware to the existing stack.
func AppendMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append(o.Middlewares, mw...)
		}
	}
}

func WithErrorHandler(handler HTTPErrorHandler) ServerOption {
	return func(o *ServerOptions) {
		if handler != nil {
			o.ErrorHandler = handler
		}
	}
}

// WithValidators installs request-level validators executed before route handlers.
func WithValidators(v ...Validator) ServerOption {
	return func(o *ServerOptions) {
		if len(v) > 0 {
			o.Validators = append([]Validator{}, v...)
		}
	}
}

// WithCORS enables CORS middleware; a nil cfg uses the default config.
func WithCORS(cfg *middleware.CORSConfig) ServerOption {
	return func(o *ServerOptions) {
		if cfg == nil {
			def := middleware.DefaultCORSConfig
			o.CORS = &def
			return
		}
		o.CORS = cfg
	}
}

// WithServerLogger enables per-request structured logging.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(o *ServerOptions) { o.Logger = &l }
}

// TokenStore supplies the bearer token and forgets it after a 401.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

// RequestInterceptor runs before every request, in registration order.
// Returning an error aborts the request with KindSetup.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ErrorInterceptor observes every classified failure, in registration order.
type ErrorInterceptor func(ctx context.Context, err *Error)

type ClientOptions struct {
	BaseURL     string
	Timeout     time.Duration
	Headers     map[string]string
	RestyConfig func(RestClient)

	TokenStore     TokenStore
	OnUnauthorized func(ctx context.Context, loginPath string)
	LoginPath      string

	RequestID           bool
	PerformanceTracking bool
	Logger              zerolog.Logger

	RequestInterceptors []RequestInterceptor
	ErrorInterceptors   []ErrorInterceptor
}

type ClientOption func(*ClientOptions)

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:             10 * time.Second,
		Headers:             map[string]string{"Content-Type": "application/json"},
		LoginPath:           "/login",
		RequestID:           true,
		PerformanceTracking: true,
		Logger:              zerolog.Nop(),
	}
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url != "" {
			o.BaseURL = url
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders adds default headers on top of Content-Type: application/json.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		if len(headers) == 0 {
			return
		}
		merged := make(map[string]string, len(o.Headers)+len(headers))
		for k, v := range o.Headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = v
		}
		o.Headers = merged
	}
}

func WithRestyConfig(fn func(RestClient)) ClientOption {
	return func(o *ClientOptions) {
		o.RestyConfig = fn
	}
}

// WithTokenStore attaches the store's token as a bearer header and clears
// it when the backend answers 401.
func WithTokenStore(ts TokenStore) ClientOption {
	return func(o *ClientOptions) { o.TokenStore = ts }
}

// WithUnauthorizedHandler is called with the login path after a 401.
func WithUnauthorizedHandler(fn func(ctx context.Context, loginPath string)) ClientOption {
	return func(o *ClientOptions) { o.OnUnauthorized = fn }
}

func WithLoginPath(path string) ClientOption {
	return func(o *ClientOptions) {
		if path != "" {
			o.LoginPath = path
		}
	}
}

// WithRequestID toggles the X-Request-Id header.
func WithRequestID(enabled bool) ClientOption {
	return func(o *ClientOptions) { o.RequestID = enabled }
}

// WithPerformanceTracking toggles per-path duration tracking.
func WithPerformanceTracking(enabled bool) ClientOption {
	return func(o *ClientOptions) { o.PerformanceTracking = enabled }
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(o *ClientOptions) { o.Logger = l }
}

func WithRequestInterceptor(fn RequestInterceptor) ClientOption {
	return func(o *ClientOptions) {
		if fn != nil {
			o.RequestInterceptors = append(o.RequestInterceptors, fn)
		}
	}
}

func WithErrorInterceptor(fn ErrorInterceptor) ClientOption {
	return func(o *ClientOptions) {
		if fn != nil {
			o.ErrorInterceptors = append(o.ErrorInterceptors, fn)
		}
	}
}
