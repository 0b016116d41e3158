package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/auth"
	"github.com/vopex/crmkit/cache"
	"github.com/vopex/crmkit/cache/memory"
	"github.com/vopex/crmkit/cache/redis"
	"github.com/vopex/crmkit/cache/tiered"
	"github.com/vopex/crmkit/config"
	"github.com/vopex/crmkit/crm"
	postgres "github.com/vopex/crmkit/db/sql/postgres"
	"github.com/vopex/crmkit/eventbus"
	"github.com/vopex/crmkit/featureflag"
	"github.com/vopex/crmkit/httpx"
	"github.com/vopex/crmkit/internal/logging"
	"github.com/vopex/crmkit/seal"
	"github.com/vopex/crmkit/storage"
	"github.com/vopex/crmkit/storage/sqlite"
)

var errNoKeyMaterial = errors.New("crmctl: set CRM_STORAGE_KEY or CRM_STORAGE_PASSPHRASE (see `crmctl keygen`)")

// app is everything a command may need, built once per invocation.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
	out    io.Writer

	closers []func() error

	bus     *eventbus.Bus
	store   *storage.Storage
	cache   *tiered.Cache
	session *auth.Session
	api     *httpx.Client
	auth    *auth.Service
	crm     *crm.Services
	flags   *featureflag.Registry
}

func newApp(ctx context.Context, cfg config.Config, out, errOut io.Writer) (*app, error) {
	a := &app{
		cfg:    cfg,
		out:    out,
		logger: logging.New(errOut, logging.Format(cfg.Log.Format), logging.ParseLevel(cfg.Log.Level)),
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	sealer, err := newSealer(cfg.Storage)
	if err != nil {
		a.close()
		return nil, err
	}

	a.bus = eventbus.New(eventbus.WithLogger(logging.WithScope(a.logger, "eventbus")))
	a.store = storage.New(backend, storage.Config{
		Sealer: sealer,
		Bus:    a.bus,
		Logger: logging.WithScope(a.logger, "storage"),
		Quota:  cfg.Storage.Quota,
	})
	a.cache = tiered.New(tiered.Config{
		DefaultTTL:        cfg.Cache.DefaultTTL,
		MaxEntries:        cfg.Cache.MaxEntries,
		PersistentStorage: tiered.Bool(cfg.Cache.Persistent),
		StorageNamespace:  cfg.Cache.Namespace,
	}, tiered.WithStorage(a.store), tiered.WithLogger(logging.WithScope(a.logger, "cache")))

	a.session = auth.NewSession(a.store)
	a.api = httpx.NewClient(
		httpx.WithBaseURL(cfg.API.BaseURL),
		httpx.WithClientTimeout(cfg.API.Timeout),
		httpx.WithTokenStore(a.session),
		httpx.WithLoginPath(cfg.API.LoginPath),
		httpx.WithUnauthorizedHandler(a.loginHint),
		httpx.WithLogger(logging.WithScope(a.logger, "api")),
	)
	a.auth = auth.NewService(a.api, a.session,
		auth.WithNavigator(a.loginHint),
		auth.WithLogger(logging.WithScope(a.logger, "auth")),
	)
	a.crm = crm.New(a.api, crm.WithCache(a.cache), crm.WithLogger(logging.WithScope(a.logger, "crm")))
	a.flags = featureflag.New(
		featureflag.WithClient(a.api),
		featureflag.WithStorage(a.store),
		featureflag.WithBus(a.bus),
		featureflag.WithEnvironment(cfg.Environment),
		featureflag.WithPollInterval(cfg.Flags.PollInterval),
		featureflag.WithLogger(logging.WithScope(a.logger, "flags")),
	)
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (cache.Store, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendMemory:
		return memory.New(memory.Options{}), nil
	case config.BackendSQLite:
		s, err := sqlite.Open(sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendRedis:
		opts := redis.Options{Addr: sc.RedisAddr, Password: sc.RedisPass, DB: sc.RedisDB}
		if sc.RedisURL != "" {
			var err error
			if opts, err = redis.ParseURL(sc.RedisURL); err != nil {
				return nil, err
			}
		}
		s := redis.NewStore(opts)
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendPostgres:
		s, db, err := postgres.OpenKVStore(ctx,
			postgres.WithDSN(sc.PostgresDSN), postgres.WithApplicationName("crmctl"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("crmctl: unknown storage backend %q", sc.Backend)
	}
}

func newSealer(sc config.Storage) (seal.Sealer, error) {
	var (
		x   *seal.XChaCha
		err error
	)
	switch {
	case sc.Key != "":
		x, err = seal.NewXChaChaHex(sc.Key)
	case sc.Passphrase != "":
		x, err = seal.NewXChaChaPassphrase([]byte(sc.Passphrase), []byte(sc.Salt))
	case sc.Backend == config.BackendMemory:
		// Nothing outlives the process, so a throwaway key is enough.
		x, err = seal.NewRandom()
	default:
		return nil, errNoKeyMaterial
	}
	if err != nil {
		return nil, err
	}
	return x, nil
}

func (a *app) loginHint(_ context.Context, path string) {
	a.logger.Warn().Str("route", path).Msg("session ended, run `crmctl login`")
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
