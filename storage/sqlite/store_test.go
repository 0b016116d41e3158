package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vopex/crmkit/cache"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "crmkit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreSetGetDelete(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "default:k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "default:k", []byte("v2"), 0); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := store.Get(ctx, "default:k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("Get() = %q, want v2", got)
	}
	if err := store.Delete(ctx, "default:k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "default:k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Delete() missing = %v, want ErrNotFound", err)
	}
}

func TestStoreExpiry(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Set(ctx, "a", []byte("x"), time.Minute)
	_ = store.Set(ctx, "b", []byte("x"), 0)
	now = now.Add(time.Minute)

	if _, err := store.Get(ctx, "a"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected expired key to miss, got %v", err)
	}
	keys, err := store.Keys(ctx, "")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("Keys() = %v", keys)
	}
}

func TestStoreKeysPrefixIsLiteral(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, k := range []string{"cache:leads:1", "cache:leads:2", "cache:_x", "auth:token"} {
		_ = store.Set(ctx, k, []byte("x"), 0)
	}
	keys, _ := store.Keys(ctx, "cache:leads:")
	if len(keys) != 2 {
		t.Fatalf("Keys(cache:leads:) = %v", keys)
	}
	keys, _ = store.Keys(ctx, "cache:_")
	if len(keys) != 1 || keys[0] != "cache:_x" {
		t.Fatalf("Keys(cache:_) = %v", keys)
	}
}

func TestStoreKeysMultiBytePrefix(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, k := range []string{"café:a", "café:b", "cafe:c", "日本:1"} {
		_ = store.Set(ctx, k, []byte("x"), 0)
	}
	keys, err := store.Keys(ctx, "café:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "café:a" || keys[1] != "café:b" {
		t.Fatalf("Keys(café:) = %v", keys)
	}
	if keys, _ := store.Keys(ctx, "日本:"); len(keys) != 1 {
		t.Fatalf("Keys(日本:) = %v", keys)
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crmkit.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = store.Set(context.Background(), "k", []byte("kept"), 0)
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() again error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), "k")
	if err != nil || string(got) != "kept" {
		t.Fatalf("Get() after reopen = %q, %v", got, err)
	}
}

func TestClosedStore(t *testing.T) {
	store := openTempStore(t)
	_ = store.Close()
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
