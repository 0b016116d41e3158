package httpx

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type memTokens struct {
	mu      sync.Mutex
	token   string
	cleared int
}

func (m *memTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokens) ClearToken(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.cleared++
	return nil
}

func newEchoServer(t *testing.T, reg RouteRegistrar, opts ...ServerOption) *TestServer {
	t.Helper()
	ts := NewRoutedTestServer(reg, opts...)
	t.Cleanup(ts.Close)
	return ts
}

func TestServerAndClientRoundTrip(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.GET("/ping", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{"message": "pong"})
		})
	})
	client := NewClient(WithBaseURL(ts.BaseURL()))

	var body struct {
		Message string `json:"message"`
	}
	resp, err := client.Get(context.Background(), "/ping", &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode() != StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode())
	}
	if body.Message != "pong" {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestErrorClassification(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.GET("/status/:code", func(c Context) error {
			code := map[string]int{
				"400": 400, "401": 401, "403": 403, "404": 404,
				"500": 500, "502": 502, "418": 418,
			}[c.Param("code")]
			return HTTPError(code, "failed with "+c.Param("code"))
		})
	})
	client := NewClient(WithBaseURL(ts.BaseURL()))

	cases := []struct {
		code     string
		kind     Kind
		sentinel error
	}{
		{"400", KindBadRequest, ErrBadRequest},
		{"401", KindUnauthorized, ErrUnauthorized},
		{"403", KindForbidden, ErrForbidden},
		{"404", KindNotFound, ErrNotFound},
		{"500", KindServer, ErrServer},
		{"502", KindOther, ErrStatus},
		{"418", KindOther, ErrStatus},
	}
	for _, tc := range cases {
		_, err := client.Get(context.Background(), "/status/"+tc.code, nil)
		var he *Error
		if !errors.As(err, &he) {
			t.Fatalf("%s: expected *Error, got %T %v", tc.code, err, err)
		}
		if he.Kind != tc.kind || !errors.Is(err, tc.sentinel) {
			t.Fatalf("%s: kind = %v, want %v", tc.code, he.Kind, tc.kind)
		}
		if he.Message() != "failed with "+tc.code {
			t.Fatalf("%s: message = %q", tc.code, he.Message())
		}
		if StatusOf(err) == 0 || he.Method != http.MethodGet {
			t.Fatalf("%s: unexpected error fields %+v", tc.code, he)
		}
	}
}

func TestUnauthorizedClearsTokenAndRedirects(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.GET("/leads", func(c Context) error { return HTTPError(StatusUnauthorized, "expired") })
	})
	tokens := &memTokens{token: "abc"}
	var redirected string
	client := NewClient(
		WithBaseURL(ts.BaseURL()),
		WithTokenStore(tokens),
		WithUnauthorizedHandler(func(_ context.Context, loginPath string) { redirected = loginPath }),
	)

	_, err := client.Get(context.Background(), "/leads", nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if tokens.cleared != 1 || tokens.token != "" {
		t.Fatalf("token not cleared: %+v", tokens)
	}
	if redirected != "/login" {
		t.Fatalf("redirected to %q, want /login", redirected)
	}
}

func TestBearerAndRequestIDHeaders(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.GET("/headers", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{
				"auth": c.Request().Header.Get("Authorization"),
				"rid":  c.Request().Header.Get(HeaderRequestID),
				"ct":   c.Request().Header.Get("Content-Type"),
			})
		})
	})
	client := NewClient(WithBaseURL(ts.BaseURL()), WithTokenStore(&memTokens{token: "stored"}))
	ctx := context.Background()

	first, err := GetJSON[map[string]string](ctx, client, "/headers")
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if first["auth"] != "Bearer stored" || first["rid"] == "" {
		t.Fatalf("unexpected headers: %v", first)
	}
	second, _ := GetJSON[map[string]string](ctx, client, "/headers", WithBearer("override"))
	if second["auth"] != "Bearer override" {
		t.Fatalf("WithBearer did not win: %v", second)
	}
	if second["rid"] == first["rid"] {
		t.Fatalf("request ids should differ per request")
	}

	quiet := NewClient(WithBaseURL(ts.BaseURL()), WithRequestID(false))
	out, _ := GetJSON[map[string]string](ctx, quiet, "/headers")
	if out["rid"] != "" || out["auth"] != "" {
		t.Fatalf("unexpected headers without token store: %v", out)
	}
}

func TestNetworkErrorAndCancellation(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.GET("/slow", func(c Context) error {
			select {
			case <-time.After(2 * time.Second):
			case <-c.Request().Context().Done():
			}
			return c.NoContent(StatusOK)
		})
	})
	base := ts.BaseURL()

	client := NewClient(WithBaseURL(base))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, "/slow", nil)
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected network deadline error, got %v", err)
	}

	ts.Close()
	_, err = client.Get(context.Background(), "/slow", nil)
	var he *Error
	if !errors.As(err, &he) || he.Kind != KindNetwork || he.Status != 0 {
		t.Fatalf("expected KindNetwork for closed server, got %v", err)
	}
}

func TestInterceptors(t *testing.T) {
	var hits int
	ts := newEchoServer(t, func(a *App) {
		a.GET("/x", func(c Context) error {
			hits++
			if c.Request().Header.Get("X-Tenant") != "acme" {
				return HTTPError(StatusForbidden, "no tenant")
			}
			return c.NoContent(StatusOK)
		})
	})

	var observed []Kind
	client := NewClient(
		WithBaseURL(ts.BaseURL()),
		WithRequestInterceptor(func(ctx context.Context, req *Request) error {
			if ctx.Value(blockKey{}) != nil {
				return errors.New("blocked")
			}
			req.SetHeader("X-Tenant", "acme")
			return nil
		}),
		WithErrorInterceptor(func(_ context.Context, err *Error) { observed = append(observed, err.Kind) }),
	)

	if _, err := client.Get(context.Background(), "/x", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocked := context.WithValue(context.Background(), blockKey{}, true)
	_, err := client.Get(blocked, "/x", nil)
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("expected ErrSetup, got %v", err)
	}
	if hits != 1 {
		t.Fatalf("blocked request reached the server")
	}
	if len(observed) != 1 || observed[0] != KindSetup {
		t.Fatalf("error interceptor saw %v", observed)
	}
}

type blockKey struct{}

func TestMetricsTrackLastDuration(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.GET("/leads/:id", func(c Context) error { return c.NoContent(StatusOK) })
	})
	client := NewClient(WithBaseURL(ts.BaseURL()))
	_, _ = client.Get(context.Background(), "/leads/7", nil)

	m := client.Metrics()
	if _, ok := m["/leads/7"]; !ok {
		t.Fatalf("Metrics() = %v", m)
	}

	off := NewClient(WithBaseURL(ts.BaseURL()), WithPerformanceTracking(false))
	_, _ = off.Get(context.Background(), "/leads/7", nil)
	if len(off.Metrics()) != 0 {
		t.Fatalf("tracking disabled but recorded %v", off.Metrics())
	}
}

func TestJSONHelpers(t *testing.T) {
	type lead struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	ts := newEchoServer(t, func(a *App) {
		a.POST("/leads", func(c Context) error {
			var in lead
			if err := c.Bind(&in); err != nil {
				return HTTPError(StatusBadRequest, "invalid body")
			}
			in.ID = "1"
			return c.JSON(StatusCreated, in)
		})
		a.PATCH("/leads/:id", func(c Context) error {
			return c.JSON(StatusOK, lead{ID: c.Param("id"), Name: "patched"})
		})
		a.PUT("/leads/:id", func(c Context) error {
			return c.JSON(StatusOK, lead{ID: c.Param("id"), Name: "put"})
		})
		a.DELETE("/leads/:id", func(c Context) error {
			return c.JSON(StatusOK, map[string]bool{"deleted": true})
		})
	})
	client := NewClient(WithBaseURL(ts.BaseURL()))
	ctx := context.Background()

	created, err := PostJSON[lead](ctx, client, "/leads", lead{Name: "Ada"})
	if err != nil || created.ID != "1" || created.Name != "Ada" {
		t.Fatalf("PostJSON() = %+v, %v", created, err)
	}
	patched, err := PatchJSON[lead](ctx, client, "/leads/1", map[string]string{"name": "x"})
	if err != nil || patched.Name != "patched" {
		t.Fatalf("PatchJSON() = %+v, %v", patched, err)
	}
	put, err := PutJSON[lead](ctx, client, "/leads/1", lead{})
	if err != nil || put.Name != "put" {
		t.Fatalf("PutJSON() = %+v, %v", put, err)
	}
	del, err := DeleteJSON[map[string]bool](ctx, client, "/leads/1")
	if err != nil || !del["deleted"] {
		t.Fatalf("DeleteJSON() = %v, %v", del, err)
	}
}

func TestBearerAuthMiddleware(t *testing.T) {
	verify := func(ctx context.Context, token string) (context.Context, error) {
		if token != "good" {
			return ctx, errors.New("bad token")
		}
		return context.WithValue(ctx, blockKey{}, "user-1"), nil
	}
	ts := newEchoServer(t, func(a *App) {
		a.GET("/secure", func(c Context) error {
			return c.JSON(StatusOK, map[string]any{"user": c.Request().Context().Value(blockKey{})})
		})
		a.POST("/auth/login", func(c Context) error { return c.NoContent(StatusNoContent) })
	}, AppendMiddlewares(BearerAuth(verify, "/auth")))

	client := NewClient(WithBaseURL(ts.BaseURL()))
	ctx := context.Background()

	if _, err := client.Get(ctx, "/secure", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected 401 without token, got %v", err)
	}
	if _, err := client.Get(ctx, "/secure", nil, WithBearer("bad")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected 401 with bad token, got %v", err)
	}
	out, err := GetJSON[map[string]string](ctx, client, "/secure", WithBearer("good"))
	if err != nil || out["user"] != "user-1" {
		t.Fatalf("authorized request = %v, %v", out, err)
	}
	if _, err := client.Post(ctx, "/auth/login", nil, nil); err != nil {
		t.Fatalf("public path rejected: %v", err)
	}
}

func TestValidatorMiddleware(t *testing.T) {
	validator := func(c Context) error {
		if c.Request().Header.Get("X-Allow") != "yes" {
			return HTTPError(StatusBadRequest, "blocked")
		}
		return nil
	}
	ts := newEchoServer(t, func(a *App) {
		a.GET("/secure", func(c Context) error { return c.NoContent(StatusOK) })
	}, WithValidators(validator))
	client := NewClient(WithBaseURL(ts.BaseURL()))

	if _, err := client.Get(context.Background(), "/secure", nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected validation error, got %v", err)
	}
	resp, err := client.Get(context.Background(), "/secure", nil, WithRequestHeaders(map[string]string{"X-Allow": "yes"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode() != StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode())
	}
}

func TestCORS(t *testing.T) {
	corsCfg := DefaultCORSConfig
	corsCfg.AllowOrigins = []string{"http://example.com"}
	ts := newEchoServer(t, func(a *App) {
		a.GET("/ping", func(c Context) error { return c.NoContent(StatusOK) })
	}, WithCORS(&corsCfg))

	client := NewClient(WithBaseURL(ts.BaseURL()))
	resp, err := client.Get(context.Background(), "/ping", nil, WithRequestHeaders(map[string]string{
		"Origin": "http://example.com",
	}))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Fatalf("expected CORS allow origin header, got %q", resp.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouterAndBulkRoutes(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.Group("/api").GET("/ping", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{"message": "pong"})
		})
		RegisterRoutes(a,
			Route{Method: "get", Path: "/r1", Handler: func(c Context) error {
				return c.JSON(StatusOK, map[string]string{"route": "r1"})
			}},
			Route{Method: "", Path: "/skipped", Handler: func(c Context) error { return nil }},
		)
	})
	client := NewClient(WithBaseURL(ts.BaseURL()))
	ctx := context.Background()

	if body, err := GetJSON[map[string]string](ctx, client, "/api/ping"); err != nil || body["message"] != "pong" {
		t.Fatalf("router route = %v, %v", body, err)
	}
	if body, err := GetJSON[map[string]string](ctx, client, "/r1"); err != nil || body["route"] != "r1" {
		t.Fatalf("bulk route = %v, %v", body, err)
	}
	if _, err := client.Get(ctx, "/skipped", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("incomplete route should not register, got %v", err)
	}
}

func TestClientRestyConfigHook(t *testing.T) {
	ts := newEchoServer(t, func(a *App) {
		a.GET("/config", func(c Context) error {
			return c.JSON(StatusOK, map[string]string{"cfg": c.Request().Header.Get("X-Config")})
		})
	})
	client := NewClient(
		WithBaseURL(ts.BaseURL()),
		WithRestyConfig(func(rc RestClient) { rc.SetHeader("X-Config", "hooked") }),
	)

	out, err := GetJSON[map[string]string](context.Background(), client, "/config")
	if err != nil || out["cfg"] != "hooked" {
		t.Fatalf("unexpected resty config result: %v, %v", out, err)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	server := NewServer(WithAddress("127.0.0.1:0"))
	server.RegisterRoutes(func(a *App) {
		a.GET("/ping", func(c Context) error { return c.NoContent(StatusNoContent) })
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx, WithShutdownTimeout(time.Second)) }()

	var addr string
	select {
	case addr = <-server.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	client := NewClient(WithBaseURL("http://" + addr))
	if _, err := client.Get(context.Background(), "/ping", nil); err != nil {
		t.Fatalf("request to started server failed: %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() returned %v", err)
	}
}

func TestErrorMessageFallbacks(t *testing.T) {
	cases := map[string]string{
		`{"message":"m"}`: "m",
		`{"error":"e"}`:   "e",
		"plain text":      "plain text",
		"":                "",
	}
	for body, want := range cases {
		e := &Error{Kind: KindOther, Body: []byte(body)}
		if got := e.Message(); got != want {
			t.Fatalf("Message(%q) = %q, want %q", body, got, want)
		}
	}
}
