package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vopex/crmkit/cache"
	"github.com/vopex/crmkit/cache/memory"
	"github.com/vopex/crmkit/seal"
)

type profile struct {
	Name string `json:"name"`
}

func newTestStorage(t *testing.T) (*Storage, *memory.Store, *time.Time) {
	t.Helper()
	sealer, err := seal.NewRandom()
	if err != nil {
		t.Fatalf("seal.NewRandom() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	backend := memory.New(memory.Options{})
	s := New(backend, Config{Sealer: sealer, Now: func() time.Time { return now }})
	return s, backend, &now
}

func TestSetGetPlain(t *testing.T) {
	s, backend, _ := newTestStorage(t)
	ctx := context.Background()

	if err := s.SetItem(ctx, "user", profile{Name: "Ada"}, Options{Namespace: "auth"}); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}
	raw, err := backend.Get(ctx, "auth:user")
	if err != nil {
		t.Fatalf("backend key missing: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("plain item should be JSON: %v", err)
	}
	if env["namespace"] != "auth" || env["expires"].(float64) != 0 {
		t.Fatalf("unexpected envelope: %v", env)
	}

	var got profile
	if err := s.GetItem(ctx, "user", "auth", &got); err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.Name != "Ada" {
		t.Fatalf("GetItem() = %+v", got)
	}
}

func TestDefaultNamespace(t *testing.T) {
	s, backend, _ := newTestStorage(t)
	ctx := context.Background()

	_ = s.SetItem(ctx, "k", 1, Options{})
	if _, err := backend.Get(ctx, "default:k"); err != nil {
		t.Fatalf("expected default namespace key, got %v", err)
	}
	var n int
	if err := s.GetItem(ctx, "k", "", &n); err != nil || n != 1 {
		t.Fatalf("GetItem() = %d, %v", n, err)
	}
}

func TestEncryptedItem(t *testing.T) {
	s, backend, _ := newTestStorage(t)
	ctx := context.Background()

	if err := s.SetItem(ctx, "token", "secret-token", Options{Encrypted: true, Namespace: "auth"}); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}
	raw, _ := backend.Get(ctx, "auth:token")
	if strings.Contains(string(raw), "secret-token") {
		t.Fatalf("encrypted payload leaks plaintext")
	}
	var got string
	if err := s.GetItem(ctx, "token", "auth", &got); err != nil || got != "secret-token" {
		t.Fatalf("GetItem() = %q, %v", got, err)
	}
}

func TestEncryptedWithoutSealer(t *testing.T) {
	s := New(memory.New(memory.Options{}), Config{})
	err := s.SetItem(context.Background(), "k", 1, Options{Encrypted: true})
	if !errors.Is(err, ErrNoSealer) {
		t.Fatalf("expected ErrNoSealer, got %v", err)
	}
}

func TestUndecryptableItemIsMiss(t *testing.T) {
	s, backend, _ := newTestStorage(t)
	ctx := context.Background()

	other, _ := seal.NewRandom()
	foreign := New(backend, Config{Sealer: other})
	_ = foreign.SetItem(ctx, "k", "v", Options{Encrypted: true})

	if err := s.GetItem(ctx, "k", "", new(string)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign ciphertext, got %v", err)
	}
}

func TestCorruptItemIsMiss(t *testing.T) {
	s, backend, _ := newTestStorage(t)
	ctx := context.Background()

	for _, payload := range []string{"not json", `"just a string"`, `{}`} {
		_ = backend.Set(ctx, "default:broken", []byte(payload), 0)
		if err := s.GetItem(ctx, "broken", "", new(string)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("payload %q: expected ErrNotFound, got %v", payload, err)
		}
	}
}

func TestDecodeMismatchIsError(t *testing.T) {
	s, _, _ := newTestStorage(t)
	ctx := context.Background()

	_ = s.SetItem(ctx, "k", "text", Options{})
	var n int
	err := s.GetItem(ctx, "k", "", &n)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestExpiredItemIsRemoved(t *testing.T) {
	s, backend, now := newTestStorage(t)
	ctx := context.Background()

	_ = s.SetItem(ctx, "k", "v", Options{Expires: time.Hour})
	*now = now.Add(2 * time.Hour)

	if err := s.GetItem(ctx, "k", "", new(string)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
	if _, err := backend.Get(ctx, "default:k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expired item should be deleted, got %v", err)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s, backend, _ := newTestStorage(t)
	ctx := context.Background()

	_ = s.SetItem(ctx, "a", 1, Options{Namespace: "auth"})
	_ = s.SetItem(ctx, "b", 2, Options{Namespace: "auth"})
	_ = s.SetItem(ctx, "c", 3, Options{Namespace: "leads"})

	if err := s.RemoveItem(ctx, "a", "auth"); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if err := s.RemoveItem(ctx, "a", "auth"); err != nil {
		t.Fatalf("RemoveItem() of missing key error = %v", err)
	}

	removed, err := s.Clear(ctx, "auth")
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("Clear() removed %d, want 1", removed)
	}
	keys, _ := backend.Keys(ctx, "")
	if len(keys) != 1 || keys[0] != "leads:c" {
		t.Fatalf("unexpected remaining keys: %v", keys)
	}
}

type plainStore struct{ cache.Store }

func TestClearRequiresScanner(t *testing.T) {
	s := New(plainStore{memory.New(memory.Options{})}, Config{})
	if _, err := s.Clear(context.Background(), "x"); !errors.Is(err, ErrScanUnsupported) {
		t.Fatalf("expected ErrScanUnsupported, got %v", err)
	}
}

func TestUsage(t *testing.T) {
	backend := memory.New(memory.Options{})
	s := New(backend, Config{Quota: 1000})
	ctx := context.Background()

	_ = s.SetItem(ctx, "k", "v", Options{})
	raw, _ := backend.Get(ctx, "default:k")

	q, err := s.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	want := int64(len("default:k") + len(raw))
	if q.Used != want || q.Total != 1000 || q.Remaining != 1000-want {
		t.Fatalf("Usage() = %+v, want used %d", q, want)
	}
}

func TestWatch(t *testing.T) {
	s, _, _ := newTestStorage(t)
	ctx := context.Background()

	var changes []Change
	stop := s.Watch(func(c Change) { changes = append(changes, c) })

	_ = s.SetItem(ctx, "k", "one", Options{})
	_ = s.SetItem(ctx, "k", "two", Options{Encrypted: true})
	_ = s.RemoveItem(ctx, "k", "")
	stop()
	_ = s.SetItem(ctx, "k", "three", Options{})

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if string(changes[1].OldValue) != `"one"` || string(changes[1].NewValue) != `"two"` {
		t.Fatalf("unexpected second change: %+v", changes[1])
	}
	if string(changes[2].OldValue) != `"two"` || changes[2].NewValue != nil {
		t.Fatalf("unexpected removal change: %+v", changes[2])
	}
}

func TestSessionStorage(t *testing.T) {
	s := NewSession(Config{})
	ctx := context.Background()

	_ = s.SetItem(ctx, "draft", map[string]string{"title": "Q3"}, Options{Namespace: "ui"})
	var got map[string]string
	if err := s.GetItem(ctx, "draft", "ui", &got); err != nil || got["title"] != "Q3" {
		t.Fatalf("GetItem() = %v, %v", got, err)
	}
}
