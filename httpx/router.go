package httpx

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Route is a declarative route for RegisterRoutes.
type Route struct {
	Method     string
	Path       string
	Handler    HandlerFunc
	Middleware []MiddlewareFunc
}

// RegisterRoutes adds routes to a. Entries without a method, path or
// handler are skipped.
func RegisterRoutes(a *App, routes ...Route) {
	for _, r := range routes {
		a.Handle(r.Method, r.Path, r.Handler, r.Middleware...)
	}
}

// Router adds routes under a group prefix. The zero value drops everything.
type Router struct {
	g *echo.Group
}

func (r *Router) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodGet, path, h, mw)
}

func (r *Router) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodPost, path, h, mw)
}

func (r *Router) PUT(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodPut, path, h, mw)
}

func (r *Router) PATCH(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodPatch, path, h, mw)
}

func (r *Router) DELETE(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.add(http.MethodDelete, path, h, mw)
}

func (r *Router) add(method, path string, h HandlerFunc, mw []MiddlewareFunc) *Router {
	if r.g != nil && h != nil {
		r.g.Add(method, path, h, mw...)
	}
	return r
}
