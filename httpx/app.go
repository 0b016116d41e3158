package httpx

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type (
	Context        = echo.Context
	HandlerFunc    = echo.HandlerFunc
	MiddlewareFunc = echo.MiddlewareFunc
)

// App is the route table a Server serves. Routes are added through
// RouteRegistrar callbacks rather than on the echo instance directly.
type App struct{ e *echo.Echo }

func newApp() *App { return &App{e: echo.New()} }

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.e.ServeHTTP(w, r) }

// Handle registers h for method and path. The method is case-insensitive.
func (a *App) Handle(method, path string, h HandlerFunc, mw ...MiddlewareFunc) {
	if a == nil || a.e == nil || h == nil || path == "" || method == "" {
		return
	}
	a.e.Add(strings.ToUpper(method), path, h, mw...)
}

func (a *App) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.Handle(http.MethodGet, path, h, mw...)
}

func (a *App) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.Handle(http.MethodPost, path, h, mw...)
}

func (a *App) PUT(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.Handle(http.MethodPut, path, h, mw...)
}

func (a *App) PATCH(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.Handle(http.MethodPatch, path, h, mw...)
}

func (a *App) DELETE(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.Handle(http.MethodDelete, path, h, mw...)
}

// Group returns a Router for routes sharing prefix and mw.
func (a *App) Group(prefix string, mw ...MiddlewareFunc) *Router {
	if a == nil || a.e == nil {
		return &Router{}
	}
	return &Router{g: a.e.Group(prefix, mw...)}
}

// HTTPError is what handlers return to produce a non-2xx JSON response.
func HTTPError(code int, message any) error { return echo.NewHTTPError(code, message) }

// RecoverMiddleware turns handler panics into 500 responses.
func RecoverMiddleware() MiddlewareFunc { return middleware.Recover() }

// CORSMiddleware applies cfg, or echo's permissive defaults when cfg is nil.
func CORSMiddleware(cfg *middleware.CORSConfig) MiddlewareFunc {
	if cfg == nil {
		return middleware.CORSWithConfig(middleware.DefaultCORSConfig)
	}
	return middleware.CORSWithConfig(*cfg)
}

var DefaultCORSConfig = middleware.DefaultCORSConfig
