package redis

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidURL = errors.New("redis: invalid url")

// Options controls how the store reaches the server and sizes its pool.
type Options struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// ParseURL reads redis://[:password@]host[:port][/db] into Options.
func ParseURL(raw string) (Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "redis" || u.Host == "" {
		return Options{}, fmt.Errorf("%w: want redis://host[:port][/db], got %q", ErrInvalidURL, raw)
	}

	opts := Options{Addr: u.Host}
	if u.Port() == "" {
		opts.Addr += ":6379"
	}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		} else {
			opts.Password = u.User.Username()
		}
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 {
			return Options{}, fmt.Errorf("%w: bad db index %q", ErrInvalidURL, db)
		}
		opts.DB = n
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	o.DB = max(o.DB, 0)
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	o.DialTimeout = orDefault(o.DialTimeout, 5*time.Second)
	o.ReadTimeout = orDefault(o.ReadTimeout, 2*time.Second)
	o.WriteTimeout = orDefault(o.WriteTimeout, 2*time.Second)
	return o
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
