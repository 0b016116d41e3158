package httpx

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenVerifier checks a bearer token and returns the context the handler
// should see.
type TokenVerifier func(ctx context.Context, token string) (context.Context, error)

// BearerAuth rejects requests without a valid bearer token with 401. Paths
// equal to, or under, one of the public prefixes are let through.
func BearerAuth(verify TokenVerifier, public ...string) MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			path := c.Request().URL.Path
			for _, p := range public {
				if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
					return next(c)
				}
			}
			if verify == nil {
				return HTTPError(StatusUnauthorized, "auth verifier missing")
			}
			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				return HTTPError(StatusUnauthorized, "missing bearer token")
			}
			ctx, err := verify(c.Request().Context(), strings.TrimSpace(token))
			if err != nil {
				return HTTPError(StatusUnauthorized, "invalid token")
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequestLogMiddleware logs one line per request with zerolog.
func RequestLogMiddleware(l zerolog.Logger) MiddlewareFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			l.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Str("request_id", req.Header.Get(HeaderRequestID)).
				Dur("duration", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}
