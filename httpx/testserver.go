package httpx

import (
	"net/http"
	"net/http/httptest"
)

// TestServer is an httptest.Server that hands out pre-pointed Clients.
type TestServer struct{ *httptest.Server }

// NewTestServer serves handler on a loopback port until Close.
func NewTestServer(handler http.Handler) *TestServer {
	return &TestServer{httptest.NewServer(handler)}
}

// NewRoutedTestServer builds a Server with opts, registers reg on it and
// serves the result.
func NewRoutedTestServer(reg RouteRegistrar, opts ...ServerOption) *TestServer {
	srv := NewServer(opts...)
	srv.RegisterRoutes(reg)
	return NewTestServer(srv.Handler())
}

func (ts *TestServer) BaseURL() string {
	if ts == nil || ts.Server == nil {
		return ""
	}
	return ts.URL
}

// APIClient returns a Client whose base URL is this server. opts are applied
// after the base URL.
func (ts *TestServer) APIClient(opts ...ClientOption) *Client {
	return NewClient(append([]ClientOption{WithBaseURL(ts.BaseURL())}, opts...)...)
}
