package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vopex/crmkit/storage"
)

const (
	// Namespace is the storage namespace auth data lives under.
	Namespace = "auth"
	TokenKey  = "vopex_auth_token"
	UserKey   = "vopex_user_data"
)

// User is the profile returned alongside a token.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// Response is the backend's answer to login and register.
type Response struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Session persists the token and user encrypted in storage. It satisfies
// httpx.TokenStore.
type Session struct {
	store *storage.Storage
	now   func() time.Time
}

// NewSession builds a Session over store. The store needs a sealer.
func NewSession(store *storage.Storage) *Session {
	return &Session{store: store, now: time.Now}
}

var encrypted = storage.Options{Encrypted: true, Namespace: Namespace}

// Save stores both the token and the user.
func (s *Session) Save(ctx context.Context, resp Response) error {
	if err := s.SetToken(ctx, resp.Token); err != nil {
		return err
	}
	if err := s.store.SetItem(ctx, UserKey, resp.User, encrypted); err != nil {
		return fmt.Errorf("auth: save user: %w", err)
	}
	return nil
}

func (s *Session) SetToken(ctx context.Context, token string) error {
	if err := s.store.SetItem(ctx, TokenKey, token, encrypted); err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}
	return nil
}

// Token returns the stored token, or "" when there is none.
func (s *Session) Token(ctx context.Context) (string, error) {
	var token string
	if err := s.store.GetItem(ctx, TokenKey, Namespace, &token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

// ClearToken forgets the token but keeps the cached user.
func (s *Session) ClearToken(ctx context.Context) error {
	return s.store.RemoveItem(ctx, TokenKey, Namespace)
}

// CurrentUser returns the stored user and whether one exists.
func (s *Session) CurrentUser(ctx context.Context) (User, bool, error) {
	var u User
	if err := s.store.GetItem(ctx, UserKey, Namespace, &u); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}

// Clear removes the token and the user.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.store.RemoveItem(ctx, TokenKey, Namespace); err != nil {
		return err
	}
	return s.store.RemoveItem(ctx, UserKey, Namespace)
}

// IsAuthenticated reports whether a token is stored and not expired.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	token, err := s.Token(ctx)
	if err != nil || token == "" {
		return false
	}
	return !TokenExpired(token, s.now())
}

// TokenExpired reads exp from an unverified JWT. Tokens that cannot be
// parsed are expired; tokens without exp never expire.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return exp.Time.Before(now)
}
