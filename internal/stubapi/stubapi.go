// Package stubapi is an in-memory CRM backend for development and tests.
package stubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/httpx"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailInUse         = errors.New("stubapi: email already registered")
	ErrInvalidCredentials = errors.New("stubapi: invalid credentials")
)

// Config tunes a Server.
type Config struct {
	// Secret signs HS256 tokens. A random secret is used when empty.
	Secret   []byte
	TokenTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost  int
	Environment string
	Flags       []Flag
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Server holds all backend state behind one mutex.
type Server struct {
	cfg     Config
	started time.Time

	mu            sync.RWMutex
	users         map[string]*user
	resets        map[string]string
	leads         []*lead
	opportunities []*opportunity
	campaigns     []*campaign
	flags         []Flag
	flagsDown     bool
	seq           int
}

type ctxKey struct{}

// New builds a Server with no users and cfg.Flags as its flag set.
func New(cfg Config) *Server {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString() + uuid.NewString())
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		cfg:     cfg,
		started: cfg.Now(),
		users:   make(map[string]*user),
		resets:  make(map[string]string),
		flags:   append([]Flag(nil), cfg.Flags...),
	}
}

// Handler returns the full API with bearer auth on every private route.
func (s *Server) Handler() http.Handler {
	return s.server().Handler()
}

// Listen serves the API on addr until ctx is done.
func (s *Server) Listen(ctx context.Context, addr string) error {
	srv := s.server(httpx.WithAddress(addr), httpx.WithServerLogger(s.cfg.Logger))
	return srv.Start(ctx)
}

func (s *Server) server(opts ...httpx.ServerOption) *httpx.Server {
	opts = append(opts, httpx.AppendMiddlewares(httpx.BearerAuth(s.verify, "/auth", "/system/health")))
	srv := httpx.NewServer(opts...)
	srv.RegisterRoutes(s.Routes)
	return srv
}

// Routes registers every endpoint on a.
func (s *Server) Routes(a *httpx.App) {
	auth := a.Group("/auth")
	auth.POST("/register", s.register)
	auth.POST("/login", s.login)
	auth.POST("/refresh-token", s.refresh)
	auth.POST("/password-reset-request", s.passwordResetRequest)
	auth.POST("/password-reset", s.passwordReset)

	a.GET("/system/health", s.health)
	a.GET("/feature-flags", s.featureFlags)

	leads := a.Group("/leads")
	leads.GET("", s.listLeads)
	leads.POST("", s.createLead)
	leads.GET("/:id", s.getLead)
	leads.PUT("/:id", s.updateLead)
	leads.POST("/:id/enrich", s.enrichLead)
	leads.GET("/:id/score", s.leadScore)
	leads.GET("/:id/prediction", s.leadPrediction)

	opps := a.Group("/opportunities")
	opps.GET("", s.listOpportunities)
	opps.POST("", s.createOpportunity)
	opps.PUT("/:id", s.updateOpportunity)
	opps.GET("/:id/interactions", s.opportunityInteractions)
	opps.GET("/:id/communications", s.opportunityCommunications)

	camps := a.Group("/campaigns")
	camps.GET("", s.listCampaigns)
	camps.POST("", s.createCampaign)
	camps.GET("/:id/report", s.campaignReport)
	camps.GET("/:id/analytics", s.campaignAnalytics)
	camps.POST("/:id/automation", s.campaignAutomation)
}

// AddUser registers a user directly, bypassing the HTTP API.
func (s *Server) AddUser(email, password, firstName, lastName, role string) error {
	_, err := s.addUser(email, password, firstName, lastName, role)
	return err
}

func (s *Server) addUser(email, password, firstName, lastName, role string) (*user, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("stubapi: email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("stubapi: hash password: %w", err)
	}
	if role == "" {
		role = "user"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return nil, ErrEmailInUse
	}
	u := &user{ID: uuid.NewString(), Email: email, FirstName: firstName, LastName: lastName, Role: role, PasswordHash: hash}
	s.users[email] = u
	return u, nil
}

func (s *Server) authenticate(email, password string) (*user, error) {
	s.mu.RLock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// IssueToken signs a token for userID valid for ttl. A ttl <= 0 uses Config.TokenTTL.
func (s *Server) IssueToken(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}
	now := s.cfg.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

func (s *Server) verify(ctx context.Context, raw string) (context.Context, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.cfg.Now))
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, ctxKey{}, claims.Subject), nil
}

// SetFlags replaces the served flag set.
func (s *Server) SetFlags(flags ...Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = append([]Flag(nil), flags...)
}

// FailFlags makes /feature-flags answer 503 while down is true.
func (s *Server) FailFlags(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flagsDown = down
}

// ResetToken returns the pending password-reset token for email.
func (s *Server) ResetToken(email string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for token, owner := range s.resets {
		if owner == email {
			return token, true
		}
	}
	return "", false
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}
