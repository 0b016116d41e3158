package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store represents a simple TTL-based cache abstraction that can be backed
// by memory, Redis, SQLite, Postgres, or any other KV store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Scanner is implemented by stores that can enumerate their keys. Namespace
// clears and usage accounting require it.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ScanStore is a Store that can also enumerate keys.
type ScanStore interface {
	Store
	Scanner
}
