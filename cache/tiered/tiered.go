// Package tiered layers a bounded in-memory cache over an optional encrypted
// storage mirror. Reads check memory first and fall back to the mirror,
// restoring hits into memory for the rest of their TTL.
package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/cache"
	"github.com/vopex/crmkit/cache/memory"
	"github.com/vopex/crmkit/storage"
)

// Config holds the cache-wide defaults.
type Config struct {
	DefaultTTL time.Duration
	MaxEntries int
	// PersistentStorage mirrors writes into storage when true. A nil value
	// leaves the current setting alone in Configure.
	PersistentStorage *bool
	// StorageNamespace is the storage namespace mirrored entries live under.
	StorageNamespace string
}

// DefaultConfig returns the defaults New starts from.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:        5 * time.Minute,
		MaxEntries:        100,
		PersistentStorage: Bool(true),
		StorageNamespace:  "cache",
	}
}

// Bool is a convenience for Config.PersistentStorage.
func Bool(v bool) *bool { return &v }

func (c Config) persistent() bool {
	return c.PersistentStorage != nil && *c.PersistentStorage
}

// merge copies the non-zero fields of partial onto c.
func (c Config) merge(partial Config) Config {
	if partial.DefaultTTL > 0 {
		c.DefaultTTL = partial.DefaultTTL
	}
	if partial.MaxEntries > 0 {
		c.MaxEntries = partial.MaxEntries
	}
	if partial.PersistentStorage != nil {
		c.PersistentStorage = Bool(*partial.PersistentStorage)
	}
	if ns := strings.TrimSpace(partial.StorageNamespace); ns != "" {
		c.StorageNamespace = ns
	}
	return c
}

// Entry is what both tiers hold for one key. Timestamp and TTL are in
// milliseconds.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

func (e Entry) age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.Timestamp) * time.Millisecond
}

func (e Entry) ttl() time.Duration {
	return time.Duration(e.TTL) * time.Millisecond
}

func (e Entry) fresh(now time.Time) bool {
	return e.age(now) < e.ttl()
}

// Stats summarizes the memory tier.
type Stats struct {
	TotalEntries int `json:"totalEntries"`
	MemoryUsage  int `json:"memoryUsage"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithStorage sets the persistent mirror. Without one the cache is memory only.
func WithStorage(s *storage.Storage) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger used for mirror failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	cfg    Config
	mem    *memory.Store
	store  *storage.Storage
	logger zerolog.Logger
	now    func() time.Time
}

// New builds a Cache from DefaultConfig merged with cfg.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{
		cfg:    DefaultConfig().merge(cfg),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.mem = memory.New(memory.Options{MaxEntries: c.cfg.MaxEntries, Now: c.now})
	return c
}

// Configure merges the non-zero fields of partial into the current config.
func (c *Cache) Configure(partial Config) {
	c.mu.Lock()
	c.cfg = c.cfg.merge(partial)
	max := c.cfg.MaxEntries
	c.mu.Unlock()
	c.mem.SetMaxEntries(max)
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg := c.cfg
	cfg.PersistentStorage = Bool(c.cfg.persistent())
	return cfg
}

func (c *Cache) settings() (Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.cfg.persistent() && c.store != nil
}

// CallOption tunes a single cache call.
type CallOption func(*callOptions)

type callOptions struct {
	namespace string
	ttl       time.Duration
}

// WithNamespace prefixes the key with namespace and a colon.
func WithNamespace(ns string) CallOption {
	return func(o *callOptions) { o.namespace = ns }
}

// WithTTL overrides Config.DefaultTTL for one Set.
func WithTTL(d time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = d }
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// FullKey is the key both tiers use for key within namespace.
func FullKey(key, namespace string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// Set stores value in memory and, when persistence is on, in the mirror.
// Mirror failures are logged rather than returned.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...CallOption) error {
	o := applyCallOptions(opts)
	cfg, persist := c.settings()
	ttl := o.ttl
	if ttl <= 0 {
		ttl = cfg.DefaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("tiered: encode value: %w", err)
	}
	e := Entry{Value: raw, Timestamp: c.now().UnixMilli(), TTL: ttl.Milliseconds()}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("tiered: encode entry: %w", err)
	}

	k := FullKey(key, o.namespace)
	if err := c.mem.Set(ctx, k, payload, ttl); err != nil {
		return err
	}
	if persist {
		err := c.store.SetItem(ctx, k, e, storage.Options{
			Encrypted: true,
			Expires:   ttl,
			Namespace: cfg.StorageNamespace,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("cache mirror write failed")
		}
	}
	return nil
}

// Get decodes the cached value for key into dest and reports whether it was
// found. Expired, missing and unreadable entries are misses.
func (c *Cache) Get(ctx context.Context, key string, dest any, opts ...CallOption) (bool, error) {
	o := applyCallOptions(opts)
	cfg, persist := c.settings()
	k := FullKey(key, o.namespace)
	now := c.now()

	payload, err := c.mem.Get(ctx, k)
	switch {
	case err == nil:
		var e Entry
		if jerr := json.Unmarshal(payload, &e); jerr == nil && e.fresh(now) {
			return true, decodeInto(k, e, dest)
		}
		_ = c.mem.Delete(ctx, k)
	case !errors.Is(err, cache.ErrNotFound):
		return false, err
	}

	if !persist {
		return false, nil
	}
	var e Entry
	if err := c.store.GetItem(ctx, k, cfg.StorageNamespace, &e); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn().Err(err).Str("key", k).Msg("cache mirror read failed")
		}
		return false, nil
	}
	if !e.fresh(now) {
		return false, nil
	}

	restored, err := json.Marshal(e)
	if err == nil {
		err = c.mem.Set(ctx, k, restored, e.ttl()-e.age(now))
	}
	if err != nil {
		return false, err
	}
	return true, decodeInto(k, e, dest)
}

func decodeInto(k string, e Entry, dest any) error {
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(e.Value, dest); err != nil {
		return fmt.Errorf("tiered: decode %s: %w", k, err)
	}
	return nil
}

// Fetch returns the cached value for key, or the result of fallback on a
// miss. The fallback result is not written back.
func Fetch[T any](ctx context.Context, c *Cache, key string, fallback func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var v T
	ok, err := c.Get(ctx, key, &v, opts...)
	if err != nil {
		return v, err
	}
	if ok || fallback == nil {
		return v, nil
	}
	return fallback(ctx)
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string, opts ...CallOption) error {
	o := applyCallOptions(opts)
	cfg, persist := c.settings()
	k := FullKey(key, o.namespace)

	if err := c.mem.Delete(ctx, k); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return err
	}
	if persist {
		if err := c.store.RemoveItem(ctx, k, cfg.StorageNamespace); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every key under namespace from both tiers. An empty
// namespace clears the whole cache.
func (c *Cache) Clear(ctx context.Context, namespace string) error {
	cfg, persist := c.settings()

	if namespace == "" {
		c.mem.Clear()
	} else {
		keys, err := c.mem.Keys(ctx, namespace+":")
		if err != nil {
			return err
		}
		for _, k := range keys {
			_ = c.mem.Delete(ctx, k)
		}
	}
	if !persist {
		return nil
	}

	// storage keys are "<StorageNamespace>:<namespace>:<key>", so clearing
	// the compound namespace removes exactly one cache namespace.
	target := cfg.StorageNamespace
	if namespace != "" {
		target += ":" + namespace
	}
	if _, err := c.store.Clear(ctx, target); err != nil {
		return fmt.Errorf("tiered: clear mirror: %w", err)
	}
	return nil
}

// Stats reports the memory tier's entry count and its JSON byte total.
func (c *Cache) Stats() Stats {
	st := c.mem.Stats()
	return Stats{TotalEntries: st.Entries, MemoryUsage: st.Bytes}
}

// MemoizeOptions tune Memoize.
type MemoizeOptions struct {
	TTL       time.Duration
	Namespace string
	// Resolver builds the cache key from the call arguments. It defaults to
	// their JSON encoding.
	Resolver func(args ...any) string
}

// Memoize wraps fn so results are cached by argument key. Errors are not
// cached.
func Memoize[R any](c *Cache, fn func(ctx context.Context, args ...any) (R, error), opts MemoizeOptions) func(ctx context.Context, args ...any) (R, error) {
	resolve := opts.Resolver
	if resolve == nil {
		resolve = jsonKey
	}
	return func(ctx context.Context, args ...any) (R, error) {
		key := resolve(args...)
		var cached R
		if ok, err := c.Get(ctx, key, &cached, WithNamespace(opts.Namespace)); err == nil && ok {
			return cached, nil
		}

		result, err := fn(ctx, args...)
		if err != nil {
			return result, err
		}
		if err := c.Set(ctx, key, result, WithNamespace(opts.Namespace), WithTTL(opts.TTL)); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("memoize: cache write failed")
		}
		return result, nil
	}
}

func jsonKey(args ...any) string {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args...)
	}
	return string(b)
}
