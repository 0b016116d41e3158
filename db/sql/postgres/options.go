package postgres

import (
	"strings"
	"time"
)

// Options configures lib/pq connections and pool sizing.
type Options struct {
	DSN             string
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// PingTimeout bounds the connectivity check in Open.
	PingTimeout time.Duration
}

type Option func(*Options)

// WithDSN sets the lib/pq connection string, in URL or key=value form.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn = strings.TrimSpace(dsn); dsn != "" {
			o.DSN = dsn
		}
	}
}

// WithApplicationName tags connections in pg_stat_activity unless the DSN
// already names an application.
func WithApplicationName(name string) Option {
	return func(o *Options) { o.ApplicationName = name }
}

// WithPool sets the pool bounds. Non-positive values keep the defaults,
// except maxIdle where zero disables idle connections.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) Option {
	return func(o *Options) {
		if maxOpen > 0 {
			o.MaxOpenConns = maxOpen
		}
		if maxIdle >= 0 {
			o.MaxIdleConns = maxIdle
		}
		if lifetime > 0 {
			o.ConnMaxLifetime = lifetime
		}
	}
}

func WithPingTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PingTimeout = d
		}
	}
}

func defaultOptions() Options {
	return Options{
		ApplicationName: "crmkit",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// dsn adds fallback_application_name to the configured DSN.
func (o Options) dsn() string {
	if o.ApplicationName == "" || strings.Contains(o.DSN, "application_name") {
		return o.DSN
	}
	if strings.HasPrefix(o.DSN, "postgres://") || strings.HasPrefix(o.DSN, "postgresql://") {
		sep := "?"
		if strings.Contains(o.DSN, "?") {
			sep = "&"
		}
		return o.DSN + sep + "fallback_application_name=" + o.ApplicationName
	}
	return o.DSN + " fallback_application_name=" + o.ApplicationName
}
