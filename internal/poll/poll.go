// Package poll runs a function on a fixed delay until its context ends.
package poll

import (
	"context"
	"time"
)

// Option configures Every.
type Option func(*options)

type options struct {
	onError func(error)
}

// OnError receives every error returned by the polled function.
func OnError(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// Every calls fn immediately and then again interval after each call returns,
// until ctx is done. It returns ctx.Err().
func Every(ctx context.Context, interval time.Duration, fn func(context.Context) error, opts ...Option) error {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if interval <= 0 {
		interval = time.Second
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if err := fn(ctx); err != nil && o.onError != nil && ctx.Err() == nil {
			o.onError(err)
		}
		timer.Reset(interval)
	}
}
