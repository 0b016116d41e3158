// Package redis is a cache.Store backed by a Redis server. It speaks RESP
// directly over a small connection pool.
package redis

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/vopex/crmkit/cache"
)

var _ cache.ScanStore = (*Store)(nil)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 100

type dialFunc func(context.Context, Options) (net.Conn, error)

// Store is safe for concurrent use.
type Store struct {
	opts Options
	dial dialFunc
	idle chan *conn
}

func NewStore(opts Options) *Store {
	cfg := opts.withDefaults()
	return &Store{opts: cfg, dial: defaultDial, idle: make(chan *conn, cfg.PoolSize)}
}

// WithDial replaces the TCP dialer.
func (s *Store) WithDial(fn dialFunc) {
	if fn != nil {
		s.dial = fn
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := s.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch v := reply.(type) {
	case nil:
		return nil, cache.ErrNotFound
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("redis: unexpected GET reply %T", reply)
	}
}

// Set writes value with a millisecond TTL. A ttl of zero or less never expires.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(max(ttl.Milliseconds(), 1), 10))
	}
	reply, err := s.do(ctx, args...)
	if err != nil {
		return err
	}
	if !isOK(reply) {
		return fmt.Errorf("redis: SET %s: %v", key, reply)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	reply, err := s.do(ctx, "DEL", key)
	if err != nil {
		return err
	}
	n, ok := reply.(int64)
	switch {
	case !ok:
		return fmt.Errorf("redis: unexpected DEL reply %T", reply)
	case n == 0:
		return cache.ErrNotFound
	}
	return nil
}

// Keys walks the keyspace with SCAN and returns every key carrying prefix,
// sorted. The prefix matches literally.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(prefix) + "*"
	var keys []string
	err := s.withConn(ctx, func(c *conn) error {
		for cursor := "0"; ; {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			reply, err := c.roundTrip(ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", strconv.Itoa(scanBatch))
			if err != nil {
				return err
			}
			next, batch, err := parseScanReply(reply)
			if err != nil {
				return err
			}
			keys = append(keys, batch...)
			if next == "0" {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		return nil, err
	}
	// SCAN may return a key more than once.
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// DeleteMany removes keys in one pipelined round-trip and reports how many
// existed.
func (s *Store) DeleteMany(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	p, err := s.Pipeline(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Close()
	for _, k := range keys {
		p.Queue("DEL", k)
	}
	replies, err := p.Exec(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range replies {
		if n, ok := r.(int64); ok {
			removed += int(n)
		}
	}
	return removed, nil
}

// Close closes every idle connection.
func (s *Store) Close() error {
	for {
		select {
		case c := <-s.idle:
			_ = c.close()
		default:
			return nil
		}
	}
}

func (s *Store) do(ctx context.Context, parts ...string) (any, error) {
	var reply any
	err := s.withConn(ctx, func(c *conn) error {
		var err error
		reply, err = c.roundTrip(ctx, parts...)
		return err
	})
	return reply, err
}

func (s *Store) withConn(ctx context.Context, fn func(*conn) error) error {
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.release(c)
	return fn(c)
}

func (s *Store) acquire(ctx context.Context) (*conn, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	select {
	case c := <-s.idle:
		return c, nil
	default:
		return dialConn(ctx, s.opts, s.dial)
	}
}

func (s *Store) release(c *conn) {
	if c.broken {
		_ = c.close()
		return
	}
	select {
	case s.idle <- c:
	default:
		_ = c.close()
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
