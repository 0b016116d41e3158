package featureflag

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vopex/crmkit/cache/memory"
	"github.com/vopex/crmkit/eventbus"
	"github.com/vopex/crmkit/httpx"
	"github.com/vopex/crmkit/internal/stubapi"
	"github.com/vopex/crmkit/seal"
	"github.com/vopex/crmkit/storage"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPercentage(t *testing.T) {
	cases := map[string]int{
		"":                 0,
		"a":                97,
		"user-1":           25,
		"bob":              17,
		"alice":            40,
		"é🙂":               78,
		"abcdefghijklmnop": 32,
	}
	for seed, want := range cases {
		assert.Equal(t, want, HashPercentage(seed), "seed %q", seed)
	}
}

func TestStatuses(t *testing.T) {
	r := New()
	r.Register(Flag{Key: "on", Status: Enabled})
	r.Register(Flag{Key: "off", Status: Disabled})

	assert.True(t, r.IsEnabled("on", nil))
	assert.False(t, r.IsEnabled("off", nil))
	assert.False(t, r.IsEnabled("missing", nil))
}

func TestPartialRollout(t *testing.T) {
	r := New()
	r.Register(Flag{Key: "beta", Status: Partial, RolloutPercentage: 30})

	assert.True(t, r.IsEnabled("beta", &UserContext{ID: "user-1"}), "hash 25 is inside 30")
	assert.False(t, r.IsEnabled("beta", &UserContext{ID: "alice"}), "hash 40 is outside 30")
	assert.True(t, r.IsEnabled("beta", &UserContext{}), "anonymous users hash to 0")

	r.Register(Flag{Key: "all", Status: Partial})
	assert.True(t, r.IsEnabled("all", &UserContext{ID: "a"}), "zero percentage skips the rollout check")
}

func TestPartialRoles(t *testing.T) {
	r := New()
	r.Register(Flag{Key: "admin", Status: Partial, EnabledForRoles: []string{"admin", "owner"}})

	assert.True(t, r.IsEnabled("admin", &UserContext{Roles: []string{"user", "owner"}}))
	assert.False(t, r.IsEnabled("admin", &UserContext{Roles: []string{"user"}}))
	assert.False(t, r.IsEnabled("admin", &UserContext{Roles: []string{}}), "an empty role list does not pass")
	assert.True(t, r.IsEnabled("admin", &UserContext{}), "a context without roles skips the gate")

	r.Register(Flag{Key: "nobody", Status: Partial, EnabledForRoles: []string{}})
	assert.False(t, r.IsEnabled("nobody", &UserContext{Roles: []string{"admin"}}))
}

func TestEmptyRolesSurviveJSON(t *testing.T) {
	var f Flag
	require.NoError(t, json.Unmarshal([]byte(`{"key":"x","status":"PARTIAL","enabledForRoles":[]}`), &f))
	require.NotNil(t, f.EnabledForRoles)

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"enabledForRoles":[]`)

	raw, err = json.Marshal(Flag{Key: "y", Status: Partial})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "enabledForRoles")
}

func TestConditions(t *testing.T) {
	r := New(WithEnvironment("production"))
	r.Register(Flag{Key: "domain", Status: Partial, Conditions: map[string]any{"email_domain": []any{"vopex.io"}}})
	r.Register(Flag{Key: "domain-str", Status: Partial, Conditions: map[string]any{"email_domain": "vopex.io,acme.com"}})
	r.Register(Flag{Key: "ids", Status: Partial, Conditions: map[string]any{"user_ids": []any{"u1", "u2"}}})
	r.Register(Flag{Key: "env", Status: Partial, Conditions: map[string]any{"environment": "production"}})
	r.Register(Flag{Key: "custom", Status: Partial, Conditions: map[string]any{"moon_phase": "full"}})

	assert.True(t, r.IsEnabled("domain", &UserContext{Email: "ada@vopex.io"}))
	assert.False(t, r.IsEnabled("domain", &UserContext{Email: "ada@gmail.com"}))
	assert.False(t, r.IsEnabled("domain", &UserContext{Email: "no-at-sign"}))
	assert.True(t, r.IsEnabled("domain", &UserContext{}), "no email skips the domain check")
	assert.True(t, r.IsEnabled("domain-str", &UserContext{Email: "ada@acme.com"}))

	assert.True(t, r.IsEnabled("ids", &UserContext{ID: "u2"}))
	assert.False(t, r.IsEnabled("ids", &UserContext{ID: "u3"}))

	assert.True(t, r.IsEnabled("env", nil))
	assert.False(t, New().evaluatePartial(Flag{Conditions: map[string]any{"environment": "production"}}, UserContext{}))

	assert.True(t, r.IsEnabled("custom", nil), "unknown conditions are ignored")
}

func TestDefaultUserContext(t *testing.T) {
	r := New()
	r.Register(Flag{Key: "ids", Status: Partial, Conditions: map[string]any{"user_ids": []any{"u1"}}})

	r.SetUserContext(UserContext{ID: "u9"})
	assert.False(t, r.IsEnabled("ids", nil))
	assert.True(t, r.IsEnabled("ids", &UserContext{ID: "u1"}), "override wins over the default")
}

func TestExperimental(t *testing.T) {
	r := New()
	r.Register(Flag{Key: "new_dashboard", Status: Enabled})

	got := Experimental(r, "new_dashboard", func() string { return "new" }, func() string { return "old" })
	assert.Equal(t, "new", got)
	got = Experimental(r, "advanced_analytics", func() string { return "new" }, func() string { return "old" })
	assert.Equal(t, "old", got)
}

func TestOnChange(t *testing.T) {
	r := New(WithPollInterval(5 * time.Millisecond))
	r.Register(Flag{Key: "k", Status: Disabled})

	changes := make(chan bool, 4)
	stop := r.OnChange("k", func(enabled bool) { changes <- enabled })
	defer stop()

	r.Register(Flag{Key: "k", Status: Enabled})
	select {
	case v := <-changes:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no change observed")
	}
	stop()
	select {
	case v := <-changes:
		t.Fatalf("unexpected extra change %v", v)
	default:
	}
}

func newStubBackend(t *testing.T, flags ...stubapi.Flag) (*stubapi.Server, *httpx.Client) {
	t.Helper()
	api := stubapi.New(stubapi.Config{BcryptCost: bcrypt.MinCost, Flags: flags})
	ts := httpx.NewTestServer(api.Handler())
	t.Cleanup(ts.Close)
	token, err := api.IssueToken("u1", 0)
	require.NoError(t, err)
	client := httpx.NewClient(httpx.WithBaseURL(ts.BaseURL()), httpx.WithHeaders(map[string]string{"Authorization": "Bearer " + token}))
	return api, client
}

func newSealedStorage(t *testing.T) *storage.Storage {
	t.Helper()
	sealer, err := seal.NewRandom()
	require.NoError(t, err)
	return storage.New(memory.New(memory.Options{}), storage.Config{Sealer: sealer})
}

func TestSyncPersistsAndFallsBack(t *testing.T) {
	api, client := newStubBackend(t, stubapi.Flag{Key: "beta", Status: "ENABLED"})
	store := newSealedStorage(t)
	bus := eventbus.New()
	var synced atomic.Int32
	bus.Subscribe(EventSynced, func(...any) { synced.Add(1) })
	ctx := context.Background()

	r := New(WithClient(client), WithStorage(store), WithBus(bus))
	r.Register(Flag{Key: "local", Status: Enabled})
	require.NoError(t, r.Sync(ctx))
	assert.True(t, r.IsEnabled("beta", nil))
	assert.True(t, r.IsEnabled("local", nil), "sync merges, it does not replace")
	assert.EqualValues(t, 1, synced.Load())

	var persisted map[string]Flag
	require.NoError(t, store.GetItem(ctx, StorageKey, "", &persisted))
	assert.Len(t, persisted, 2)

	api.FailFlags(true)
	offline := New(WithClient(client), WithStorage(store))
	require.NoError(t, offline.Sync(ctx), "fallback to persisted flags is not an error")
	f, ok := offline.Details("beta")
	require.True(t, ok)
	assert.Equal(t, Enabled, f.Status)
}

func TestSyncErrorWithoutFallback(t *testing.T) {
	api, client := newStubBackend(t)
	api.FailFlags(true)

	r := New(WithClient(client), WithStorage(newSealedStorage(t)))
	err := r.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, httpx.StatusServiceUnavailable, httpx.StatusOf(err))
	assert.Empty(t, r.Flags())
}
