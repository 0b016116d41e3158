// Package storage keeps namespaced, optionally encrypted JSON envelopes in a
// cache.Store backend.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/cache"
	"github.com/vopex/crmkit/cache/memory"
	"github.com/vopex/crmkit/eventbus"
	"github.com/vopex/crmkit/seal"
)

// ErrNotFound aliases cache.ErrNotFound so callers can match either.
var ErrNotFound = cache.ErrNotFound

var (
	ErrScanUnsupported = errors.New("storage: backend cannot enumerate keys")
	ErrNoSealer        = errors.New("storage: encryption requested without a sealer")
)

// DefaultNamespace applies when Options.Namespace is empty.
const DefaultNamespace = "default"

// DefaultQuota mirrors the usual per-origin browser storage allowance.
const DefaultQuota = 5 << 20

// ChangeEvent is the event bus topic Watch subscribes to.
const ChangeEvent = "storage:change"

// Options controls how a single value is written.
type Options struct {
	Encrypted bool
	// Expires is relative to the write; zero means the item never expires.
	Expires   time.Duration
	Namespace string
}

// Change describes one mutation made through a Storage.
type Change struct {
	Key       string
	Namespace string
	OldValue  json.RawMessage
	NewValue  json.RawMessage
}

// Quota reports backend usage against the configured allowance.
type Quota struct {
	Used      int64
	Total     int64
	Remaining int64
}

type item struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Expires   int64           `json:"expires"`
	Namespace string          `json:"namespace"`
}

// bulkDeleter is implemented by backends that can remove many keys at once.
type bulkDeleter interface {
	DeleteMany(ctx context.Context, keys ...string) (int, error)
}

// Config wires a Storage.
type Config struct {
	Sealer seal.Sealer
	Bus    *eventbus.Bus
	Logger zerolog.Logger
	Quota  int64
	Now    func() time.Time
}

// Storage is safe for concurrent use when its backend is.
type Storage struct {
	backend cache.Store
	sealer  seal.Sealer
	bus     *eventbus.Bus
	logger  zerolog.Logger
	quota   int64
	now     func() time.Time
}

// New builds a Storage over backend.
func New(backend cache.Store, cfg Config) *Storage {
	s := &Storage{
		backend: backend,
		sealer:  cfg.Sealer,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		quota:   cfg.Quota,
		now:     cfg.Now,
	}
	if s.bus == nil {
		s.bus = eventbus.New(eventbus.WithLogger(cfg.Logger))
	}
	if s.quota <= 0 {
		s.quota = DefaultQuota
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NewSession builds a Storage whose items live only as long as the process.
func NewSession(cfg Config) *Storage {
	return New(memory.New(memory.Options{}), cfg)
}

func namespaceOrDefault(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

func fullKey(key, namespace string) string {
	return namespaceOrDefault(namespace) + ":" + key
}

// SetItem writes value under namespace:key.
func (s *Storage) SetItem(ctx context.Context, key string, value any, opts Options) error {
	ns := namespaceOrDefault(opts.Namespace)
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode value: %w", err)
	}

	now := s.now()
	it := item{Value: raw, Timestamp: now.UnixMilli(), Namespace: ns}
	if opts.Expires > 0 {
		it.Expires = now.Add(opts.Expires).UnixMilli()
	}
	payload, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("storage: encode item: %w", err)
	}
	if opts.Encrypted {
		if s.sealer == nil {
			return ErrNoSealer
		}
		sealed, err := s.sealer.Seal(payload)
		if err != nil {
			return fmt.Errorf("storage: seal item: %w", err)
		}
		payload = []byte(sealed)
	}

	k := fullKey(key, ns)
	var old json.RawMessage
	watched := s.bus.Count(ChangeEvent) > 0
	if watched {
		old = s.peek(ctx, k)
	}
	if err := s.backend.Set(ctx, k, payload, opts.Expires); err != nil {
		return fmt.Errorf("storage: set %s: %w", k, err)
	}
	if watched {
		s.bus.Publish(ChangeEvent, Change{Key: key, Namespace: ns, OldValue: old, NewValue: raw})
	}
	return nil
}

// GetItem decodes the value stored under namespace:key into dest. Missing,
// expired, undecryptable, and corrupt items all report ErrNotFound.
func (s *Storage) GetItem(ctx context.Context, key, namespace string, dest any) error {
	ns := namespaceOrDefault(namespace)
	k := fullKey(key, ns)

	it, err := s.load(ctx, k)
	if err != nil {
		return err
	}
	if it.Expires > 0 && s.now().UnixMilli() > it.Expires {
		if err := s.backend.Delete(ctx, k); err != nil && !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", k).Msg("storage: remove expired item")
		}
		return ErrNotFound
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(it.Value, dest); err != nil {
		return fmt.Errorf("storage: decode %s: %w", k, err)
	}
	return nil
}

// RemoveItem deletes namespace:key. Removing a missing key is not an error.
func (s *Storage) RemoveItem(ctx context.Context, key, namespace string) error {
	ns := namespaceOrDefault(namespace)
	k := fullKey(key, ns)

	var old json.RawMessage
	watched := s.bus.Count(ChangeEvent) > 0
	if watched {
		old = s.peek(ctx, k)
	}
	if err := s.backend.Delete(ctx, k); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("storage: remove %s: %w", k, err)
	}
	if watched {
		s.bus.Publish(ChangeEvent, Change{Key: key, Namespace: ns, OldValue: old})
	}
	return nil
}

// Clear removes every key under namespace and reports how many went away.
func (s *Storage) Clear(ctx context.Context, namespace string) (int, error) {
	ns := namespaceOrDefault(namespace)
	keys, err := s.keys(ctx, ns+":")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed := 0
	if bulk, ok := s.backend.(bulkDeleter); ok {
		removed, err = bulk.DeleteMany(ctx, keys...)
		if err != nil {
			return 0, fmt.Errorf("storage: clear %s: %w", ns, err)
		}
	} else {
		for _, k := range keys {
			if err := s.backend.Delete(ctx, k); err != nil {
				if errors.Is(err, cache.ErrNotFound) {
					continue
				}
				return removed, fmt.Errorf("storage: clear %s: %w", ns, err)
			}
			removed++
		}
	}

	if s.bus.Count(ChangeEvent) > 0 {
		for _, k := range keys {
			s.bus.Publish(ChangeEvent, Change{Key: strings.TrimPrefix(k, ns+":"), Namespace: ns})
		}
	}
	return removed, nil
}

// Usage sums stored payload sizes across the backend.
func (s *Storage) Usage(ctx context.Context) (Quota, error) {
	keys, err := s.keys(ctx, "")
	if err != nil {
		return Quota{}, err
	}
	var used int64
	for _, k := range keys {
		payload, err := s.backend.Get(ctx, k)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			return Quota{}, err
		}
		used += int64(len(k) + len(payload))
	}
	remaining := s.quota - used
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Used: used, Total: s.quota, Remaining: remaining}, nil
}

// Watch calls fn for every change made through this Storage until the
// returned function is called.
func (s *Storage) Watch(fn func(Change)) func() {
	sub := s.bus.Subscribe(ChangeEvent, func(args ...any) {
		if len(args) == 0 {
			return
		}
		if c, ok := args[0].(Change); ok {
			fn(c)
		}
	})
	return sub.Unsubscribe
}

func (s *Storage) keys(ctx context.Context, prefix string) ([]string, error) {
	scanner, ok := s.backend.(cache.Scanner)
	if !ok {
		return nil, ErrScanUnsupported
	}
	return scanner.Keys(ctx, prefix)
}

// load fetches and decodes the envelope, trying the sealer before plain JSON.
func (s *Storage) load(ctx context.Context, k string) (item, error) {
	payload, err := s.backend.Get(ctx, k)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return item{}, ErrNotFound
		}
		return item{}, fmt.Errorf("storage: get %s: %w", k, err)
	}

	var it item
	if s.sealer != nil {
		if plain, err := s.sealer.Open(string(payload)); err == nil {
			if err := json.Unmarshal(plain, &it); err == nil && len(it.Value) > 0 {
				return it, nil
			}
		}
	}
	it = item{}
	if err := json.Unmarshal(payload, &it); err != nil || len(it.Value) == 0 {
		s.logger.Warn().Err(err).Str("key", k).Msg("storage: unreadable item treated as missing")
		return item{}, ErrNotFound
	}
	return it, nil
}

func (s *Storage) peek(ctx context.Context, k string) json.RawMessage {
	it, err := s.load(ctx, k)
	if err != nil {
		return nil
	}
	return it.Value
}
