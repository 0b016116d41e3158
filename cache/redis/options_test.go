package redis

import (
	"errors"
	"testing"
	"time"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		raw  string
		want Options
	}{
		{"redis://cache.local", Options{Addr: "cache.local:6379"}},
		{"redis://:s3cret@10.0.0.2:6380/3", Options{Addr: "10.0.0.2:6380", Password: "s3cret", DB: 3}},
		{"redis://token@cache.local/", Options{Addr: "cache.local:6379", Password: "token"}},
	}
	for _, tc := range cases {
		got, err := ParseURL(tc.raw)
		if err != nil {
			t.Fatalf("ParseURL(%q) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseURL(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}

	for _, raw := range []string{"http://cache.local", "redis://", "redis://host/db1", "redis://host/-1"} {
		if _, err := ParseURL(raw); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("ParseURL(%q) error = %v, want ErrInvalidURL", raw, err)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	got := Options{DB: -2, ReadTimeout: time.Second}.withDefaults()
	if got.Addr != "127.0.0.1:6379" || got.DB != 0 || got.PoolSize != 8 {
		t.Fatalf("withDefaults() = %+v", got)
	}
	if got.ReadTimeout != time.Second || got.WriteTimeout != 2*time.Second || got.DialTimeout != 5*time.Second {
		t.Fatalf("withDefaults() timeouts = %+v", got)
	}
}
