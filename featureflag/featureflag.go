// Package featureflag evaluates server-defined feature flags against a user
// context, with percentage rollouts, role gates and simple conditions.
package featureflag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/eventbus"
	"github.com/vopex/crmkit/httpx"
	"github.com/vopex/crmkit/internal/poll"
	"github.com/vopex/crmkit/storage"
)

// Status is the rollout state of a flag.
type Status string

const (
	Enabled  Status = "ENABLED"
	Disabled Status = "DISABLED"
	Partial  Status = "PARTIAL"
)

const (
	// StorageKey is where the last synced flag set is persisted.
	StorageKey = "feature-flags"
	// EventSynced is published on the bus after every successful Sync.
	EventSynced = "featureflag:synced"

	defaultPollInterval = 5 * time.Second
)

type Flag struct {
	Key               string         `json:"key"`
	Status            Status         `json:"status"`
	RolloutPercentage int            `json:"rolloutPercentage,omitempty"`
	EnabledForRoles   []string       `json:"enabledForRoles,omitzero"`
	Conditions        map[string]any `json:"conditions,omitempty"`
}

// UserContext is who a flag is evaluated for.
type UserContext struct {
	ID    string   `json:"id,omitempty"`
	Roles []string `json:"roles,omitzero"`
	Email string   `json:"email,omitempty"`
}

type Option func(*Registry)

// WithClient sets the API client Sync fetches from.
func WithClient(c *httpx.Client) Option {
	return func(r *Registry) { r.api = c }
}

// WithStorage enables persisting the flag set for offline fallback. The
// storage needs a sealer.
func WithStorage(s *storage.Storage) Option {
	return func(r *Registry) { r.store = s }
}

// WithEnvironment sets the value the "environment" condition compares to.
func WithEnvironment(env string) Option {
	return func(r *Registry) { r.env = env }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithBus publishes EventSynced with the flag count after each Sync.
func WithBus(b *eventbus.Bus) Option {
	return func(r *Registry) { r.bus = b }
}

// WithPollInterval sets how often OnChange re-evaluates.
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// Registry holds the known flags and the default user context.
type Registry struct {
	api      *httpx.Client
	store    *storage.Storage
	bus      *eventbus.Bus
	env      string
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.RWMutex
	flags map[string]Flag
	user  UserContext
}

func New(opts ...Option) *Registry {
	r := &Registry{
		flags:    make(map[string]Flag),
		env:      "development",
		interval: defaultPollInterval,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// SetUserContext replaces the default context used when IsEnabled gets no
// override.
func (r *Registry) SetUserContext(u UserContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = u
}

// Sync fetches the flag set and merges it into the registry. When the fetch
// fails and a persisted set exists, that set replaces the registry and Sync
// returns nil.
func (r *Registry) Sync(ctx context.Context) error {
	if r.api == nil {
		return errors.New("featureflag: no api client")
	}
	flags, err := httpx.GetJSON[[]Flag](ctx, r.api, "/feature-flags")
	if err != nil {
		r.logger.Warn().Err(err).Msg("feature flag sync failed")
		if r.loadPersisted(ctx) {
			return nil
		}
		return fmt.Errorf("featureflag: sync: %w", err)
	}

	r.mu.Lock()
	for _, f := range flags {
		r.flags[f.Key] = f
	}
	snapshot := make(map[string]Flag, len(r.flags))
	for k, f := range r.flags {
		snapshot[k] = f
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SetItem(ctx, StorageKey, snapshot, storage.Options{Encrypted: true}); err != nil {
			r.logger.Warn().Err(err).Msg("persist feature flags")
		}
	}
	if r.bus != nil {
		r.bus.Publish(EventSynced, len(snapshot))
	}
	return nil
}

func (r *Registry) loadPersisted(ctx context.Context) bool {
	if r.store == nil {
		return false
	}
	var cached map[string]Flag
	if err := r.store.GetItem(ctx, StorageKey, "", &cached); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn().Err(err).Msg("load persisted feature flags")
		}
		return false
	}
	r.mu.Lock()
	r.flags = cached
	if r.flags == nil {
		r.flags = make(map[string]Flag)
	}
	r.mu.Unlock()
	return true
}

// Register adds or replaces a flag locally.
func (r *Registry) Register(f Flag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[f.Key] = f
}

// Details returns the flag stored under key.
func (r *Registry) Details(key string) (Flag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flags[key]
	return f, ok
}

// Flags returns every known flag.
func (r *Registry) Flags() []Flag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Flag, 0, len(r.flags))
	for _, f := range r.flags {
		out = append(out, f)
	}
	return out
}

// IsEnabled evaluates key for override, or for the default user context
// when override is nil.
func (r *Registry) IsEnabled(key string, override *UserContext) bool {
	r.mu.RLock()
	f, ok := r.flags[key]
	u := r.user
	r.mu.RUnlock()
	if override != nil {
		u = *override
	}
	if !ok {
		r.logger.Warn().Str("flag", key).Msg("feature flag not found")
		return false
	}

	switch f.Status {
	case Enabled:
		return true
	case Partial:
		return r.evaluatePartial(f, u)
	default:
		return false
	}
}

func (r *Registry) evaluatePartial(f Flag, u UserContext) bool {
	if f.RolloutPercentage > 0 && HashPercentage(u.ID) > f.RolloutPercentage {
		return false
	}
	// nil means the side did not say; an empty list still gates.
	if f.EnabledForRoles != nil && u.Roles != nil && !intersects(f.EnabledForRoles, u.Roles) {
		return false
	}
	for name, value := range f.Conditions {
		switch name {
		case "email_domain":
			if u.Email == "" {
				continue
			}
			_, domain, found := strings.Cut(u.Email, "@")
			if !found || !contains(value, domain) {
				return false
			}
		case "user_ids":
			if u.ID != "" && !contains(value, u.ID) {
				return false
			}
		case "environment":
			if env, _ := value.(string); env != r.env {
				return false
			}
		default:
			r.logger.Warn().Str("flag", f.Key).Str("condition", name).Msg("unsupported flag condition")
		}
	}
	return true
}

// contains matches s against a condition value that is either a list or a
// string. A string value matches by substring.
func contains(value any, s string) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, s)
	case []string:
		for _, item := range v {
			if item == s {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok && str == s {
				return true
			}
		}
	}
	return false
}

func intersects(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// HashPercentage maps seed onto 0..99 with the 31-multiplier string hash over
// UTF-16 code units. An empty seed maps to 0.
func HashPercentage(seed string) int {
	var h int32
	for _, unit := range utf16.Encode([]rune(seed)) {
		h = (h << 5) - h + int32(unit)
	}
	p := int(h % 100)
	if p < 0 {
		p = -p
	}
	return p
}

// Experimental returns the result of experimental when key is enabled for
// the default user context, and of fallback otherwise.
func Experimental[T any](r *Registry, key string, experimental, fallback func() T) T {
	if r.IsEnabled(key, nil) {
		return experimental()
	}
	return fallback()
}

// OnChange calls cb with the new state whenever key flips for the default
// user context. Call the returned func to stop watching.
func (r *Registry) OnChange(key string, cb func(enabled bool)) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	last := r.IsEnabled(key, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poll.Every(ctx, r.interval, func(context.Context) error {
			if cur := r.IsEnabled(key, nil); cur != last {
				last = cur
				cb(cur)
			}
			return nil
		})
	}()
	return func() {
		cancel()
		<-done
	}
}
