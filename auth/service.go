// Package auth keeps the signed-in user's session and talks to the
// backend's /auth endpoints.
package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/httpx"
)

// LoginPath is where Logout sends the user.
const LoginPath = "/login"

// Navigator moves the user to path. The CLI prints a hint; a UI would route.
type Navigator func(ctx context.Context, path string)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type Option func(*Service)

func WithNavigator(n Navigator) Option {
	return func(s *Service) {
		if n != nil {
			s.navigate = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service wraps the auth endpoints around a Session.
type Service struct {
	api      *httpx.Client
	session  *Session
	navigate Navigator
	logger   zerolog.Logger
}

// NewService builds a Service. api should carry session as its TokenStore.
func NewService(api *httpx.Client, session *Session, opts ...Option) *Service {
	s := &Service{
		api:      api,
		session:  session,
		navigate: func(context.Context, string) {},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Session returns the underlying session store.
func (s *Service) Session() *Session { return s.session }

func (s *Service) Login(ctx context.Context, creds Credentials) (Response, error) {
	return s.authenticate(ctx, "/auth/login", creds)
}

func (s *Service) Register(ctx context.Context, reg Registration) (Response, error) {
	return s.authenticate(ctx, "/auth/register", reg)
}

func (s *Service) authenticate(ctx context.Context, path string, body any) (Response, error) {
	resp, err := httpx.PostJSON[Response](ctx, s.api, path, body)
	if err != nil {
		s.handleAuthError(ctx, err)
		return Response{}, err
	}
	if err := s.session.Save(ctx, resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Logout clears the session and navigates to the login route.
func (s *Service) Logout(ctx context.Context) error {
	err := s.session.Clear(ctx)
	s.navigate(ctx, LoginPath)
	return err
}

func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.session.IsAuthenticated(ctx)
}

func (s *Service) CurrentUser(ctx context.Context) (User, bool, error) {
	return s.session.CurrentUser(ctx)
}

func (s *Service) Token(ctx context.Context) (string, error) {
	return s.session.Token(ctx)
}

// RefreshToken exchanges the current token for a new one. An empty token in
// the response leaves the session unchanged.
func (s *Service) RefreshToken(ctx context.Context) (string, error) {
	out, err := httpx.PostJSON[struct {
		Token string `json:"token"`
	}](ctx, s.api, "/auth/refresh-token", struct{}{})
	if err != nil {
		s.handleAuthError(ctx, err)
		return "", err
	}
	if out.Token == "" {
		return "", nil
	}
	if err := s.session.SetToken(ctx, out.Token); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := s.api.Post(ctx, "/auth/password-reset-request", map[string]string{"email": email}, nil)
	return err
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	_, err := s.api.Post(ctx, "/auth/password-reset", map[string]string{"token": token, "newPassword": newPassword}, nil)
	return err
}

// handleAuthError logs the user out on a 401. The client's own unauthorized
// handler has already redirected in that case, so only the session is cleared.
func (s *Service) handleAuthError(ctx context.Context, err error) {
	s.logger.Error().Err(err).Msg("authentication error")
	if !errors.Is(err, httpx.ErrUnauthorized) {
		return
	}
	if s.api.HandlesUnauthorized() {
		if cerr := s.session.Clear(ctx); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("clear session after 401")
		}
		return
	}
	if lerr := s.Logout(ctx); lerr != nil {
		s.logger.Warn().Err(lerr).Msg("logout after 401")
	}
}
