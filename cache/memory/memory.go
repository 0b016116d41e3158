// Package memory provides a process-local cache.Store with TTL expiry and
// oldest-first eviction once a maximum entry count is exceeded.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vopex/crmkit/cache"
)

var _ cache.ScanStore = (*Store)(nil)

// Options controls expiry defaults and the size bound of a Store.
type Options struct {
	// MaxEntries bounds the number of live entries; zero means unbounded.
	MaxEntries int
	// DefaultTTL applies when Set is called with ttl <= 0; zero means never expire.
	DefaultTTL time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

type entry struct {
	value     []byte
	storedAt  time.Time
	expiresAt time.Time
	seq       uint64
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Stats summarizes the current contents of a Store.
type Stats struct {
	Entries int
	Bytes   int
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	items   map[string]entry
	max     int
	ttl     time.Duration
	now     func() time.Time
	nextSeq uint64
}

// New builds an empty Store.
func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	max := opts.MaxEntries
	if max < 0 {
		max = 0
	}
	return &Store{
		items: make(map[string]entry),
		max:   max,
		ttl:   opts.DefaultTTL,
		now:   now,
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	if e.expired(s.now()) {
		delete(s.items, key)
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	e := entry{
		value:    append([]byte(nil), value...),
		storedAt: now,
		seq:      s.nextSeq,
	}
	s.nextSeq++
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.items[key] = e
	s.evictLocked(now)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return cache.ErrNotFound
	}
	delete(s.items, key)
	return nil
}

// Keys lists unexpired keys carrying prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys := make([]string, 0, len(s.items))
	for k, e := range s.items {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]entry)
}

// SetMaxEntries changes the size bound and evicts immediately if needed.
func (s *Store) SetMaxEntries(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = n
	s.evictLocked(s.now())
}

// Len reports the number of stored entries, including ones that expired but
// have not been swept yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Entries: len(s.items)}
	for _, e := range s.items {
		st.Bytes += len(e.value)
	}
	return st
}

// evictLocked sweeps expired entries, then drops the oldest ones until the
// store is back within max.
func (s *Store) evictLocked(now time.Time) {
	for k, e := range s.items {
		if e.expired(now) {
			delete(s.items, k)
		}
	}
	overflow := len(s.items) - s.max
	if s.max == 0 || overflow <= 0 {
		return
	}

	type aged struct {
		key string
		at  time.Time
		seq uint64
	}
	all := make([]aged, 0, len(s.items))
	for k, e := range s.items {
		all = append(all, aged{key: k, at: e.storedAt, seq: e.seq})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].at.Equal(all[j].at) {
			return all[i].seq < all[j].seq
		}
		return all[i].at.Before(all[j].at)
	})
	for _, a := range all[:overflow] {
		delete(s.items, a.key)
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
