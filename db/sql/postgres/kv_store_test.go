package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/vopex/crmkit/cache"
	"github.com/vopex/crmkit/internal/testutil/container"
)

const testTimeout = 5 * time.Second

var testpg = container.Postgres()

func TestMain(m *testing.M) {
	if err := testpg.Setup(); err != nil {
		fmt.Println("postgres tests skipped:", err)
		os.Exit(0)
	}
	code := m.Run()
	_ = testpg.Teardown()
	os.Exit(code)
}

func openTestStore(t *testing.T) *KVStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	db, err := Open(ctx, WithDSN(container.PostgresDSN(testpg)), WithPool(4, 2, 0))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(ctx, db, "DROP TABLE IF EXISTS kv_items", DefaultKVSchema); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewKVStore(db)
}

func TestKVStoreCRUD(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := store.Set(ctx, "cache:leads:1", []byte("one"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "cache:leads:1", []byte("uno"), 0); err != nil {
		t.Fatalf("Set() upsert error = %v", err)
	}
	got, err := store.Get(ctx, "cache:leads:1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "uno" {
		t.Fatalf("Get() = %q, want %q", got, "uno")
	}

	if err := store.Delete(ctx, "cache:leads:1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "cache:leads:1"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
	if _, err := store.Get(ctx, "cache:leads:1"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKVStoreExpiry(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	now := time.Now()
	store.now = func() time.Time { return now }
	if err := store.Set(ctx, "short", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "stale", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	now = now.Add(2 * time.Minute)

	if _, err := store.Get(ctx, "short"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected expired key to miss, got %v", err)
	}
	keys, err := store.Keys(ctx, "")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expired keys listed: %v", keys)
	}
	purged, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if purged != 1 {
		t.Fatalf("PurgeExpired() = %d, want 1", purged)
	}
}

func TestKVStoreKeysEscapesPattern(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	for _, k := range []string{"a_b:1", "axb:2", "a%:3", "a_b:4"} {
		if err := store.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}
	keys, err := store.Keys(ctx, "a_b:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "a_b:1" || keys[1] != "a_b:4" {
		t.Fatalf("Keys() = %v", keys)
	}

	removed, err := store.DeleteMany(ctx, "a_b:1", "a%:3", "missing")
	if err != nil {
		t.Fatalf("DeleteMany() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("DeleteMany() = %d, want 2", removed)
	}
}

func TestKVStoreMissingSchema(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := Migrate(ctx, store.db, "DROP TABLE kv_items"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrSchemaMissing) {
		t.Fatalf("expected ErrSchemaMissing, got %v", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background()); !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("Open() error = %v, want ErrMissingDSN", err)
	}
}

func TestMigrateRollsBack(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := Migrate(ctx, store.db, "CREATE TABLE migrate_probe (id INT)", "NOT SQL")
	if err == nil {
		t.Fatal("expected Migrate() error")
	}
	var exists bool
	row := store.db.QueryRowContext(ctx, "SELECT to_regclass('migrate_probe') IS NOT NULL")
	if err := row.Scan(&exists); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if exists {
		t.Fatal("failed migration left migrate_probe behind")
	}
}

func TestDSNApplicationName(t *testing.T) {
	cases := [][2]string{
		{"postgres://u@h/db", "postgres://u@h/db?fallback_application_name=crmkit"},
		{"postgres://u@h/db?sslmode=disable", "postgres://u@h/db?sslmode=disable&fallback_application_name=crmkit"},
		{"host=h dbname=db", "host=h dbname=db fallback_application_name=crmkit"},
		{"host=h application_name=already-set", "host=h application_name=already-set"},
	}
	for _, tc := range cases {
		in, want := tc[0], tc[1]
		o := defaultOptions()
		WithDSN(in)(&o)
		if got := o.dsn(); got != want {
			t.Fatalf("dsn(%q) = %q, want %q", in, got, want)
		}
	}
}
