// Package config loads crmkit settings from CRM_* environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted by Storage.Backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	API         API     `envPrefix:"CRM_API_"`
	Cache       Cache   `envPrefix:"CRM_CACHE_"`
	Storage     Storage `envPrefix:"CRM_STORAGE_"`
	Log         Log     `envPrefix:"CRM_LOG_"`
	Flags       Flags   `envPrefix:"CRM_FLAGS_"`
	Environment string  `env:"CRM_ENVIRONMENT" envDefault:"development"`
}

type API struct {
	BaseURL   string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
	LoginPath string        `env:"LOGIN_PATH" envDefault:"/login"`

	// HealthInterval is the delay between checks of `crmctl health --watch`.
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" envDefault:"15m"`
}

type Cache struct {
	DefaultTTL time.Duration `env:"DEFAULT_TTL" envDefault:"10m"`
	MaxEntries int           `env:"MAX_ENTRIES" envDefault:"200"`
	Persistent bool          `env:"PERSISTENT" envDefault:"true"`
	Namespace  string        `env:"NAMESPACE" envDefault:"cache"`
}

type Storage struct {
	Backend     string `env:"BACKEND" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"crmkit.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// RedisURL, when set, replaces RedisAddr, RedisPass and RedisDB.
	RedisURL string `env:"REDIS_URL"`

	// Key is a hex encoded 32-byte key. When empty, Passphrase is used.
	Key        string `env:"KEY"`
	Passphrase string `env:"PASSPHRASE"`
	Salt       string `env:"SALT" envDefault:"crmkit-storage"`
	Quota      int64  `env:"QUOTA" envDefault:"5242880"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"console"`
}

type Flags struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem it finds, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		bad("CRM_API_BASE_URL %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		bad("CRM_API_TIMEOUT must be positive")
	}

	if c.Cache.MaxEntries < 0 {
		bad("CRM_CACHE_MAX_ENTRIES must not be negative")
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			bad("CRM_STORAGE_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			bad("CRM_STORAGE_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		bad("unknown CRM_STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Storage.Key != "" {
		if b, err := hex.DecodeString(c.Storage.Key); err != nil || len(b) != 32 {
			bad("CRM_STORAGE_KEY must be 64 hex characters")
		}
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		bad("unknown CRM_LOG_FORMAT %q", c.Log.Format)
	}
	return errors.Join(errs...)
}
