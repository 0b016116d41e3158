// Package eventbus is an in-process publish/subscribe hub keyed by event name.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNoSubscribers = errors.New("eventbus: no subscribers")
	ErrTimeout       = errors.New("eventbus: publish timed out")
)

// Handler receives the arguments passed to Publish.
type Handler func(args ...any)

// MiddlewareFunc may rewrite a payload before calling next.
type MiddlewareFunc func(payload any, next func(any))

type subscriber struct {
	id uint64
	fn Handler
}

// Subscription detaches one handler.
type Subscription struct {
	bus   *Bus
	event string
	id    uint64
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.remove(s.event, s.id)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID uint64
	logger zerolog.Logger
	now    func() time.Time
}

// New builds an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string][]subscriber),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers fn for event.
func (b *Bus) Subscribe(event string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscriber{id: id, fn: fn})
	return Subscription{bus: b, event: event, id: id}
}

// SubscribeOnce registers fn for the next publication of event only.
func (b *Bus) SubscribeOnce(event string, fn Handler) Subscription {
	var (
		once sync.Once
		sub  Subscription
	)
	ready := make(chan struct{})
	sub = b.Subscribe(event, func(args ...any) {
		<-ready
		once.Do(func() {
			sub.Unsubscribe()
			fn(args...)
		})
	})
	close(ready)
	return sub
}

// Unsubscribe drops every handler registered for event.
func (b *Bus) Unsubscribe(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, event)
}

// Publish calls every handler for event in subscription order. A panicking
// handler is logged and does not stop the others.
func (b *Bus) Publish(event string, args ...any) {
	for _, s := range b.snapshot(event) {
		if err := invoke(s.fn, args); err != nil {
			b.logger.Error().Err(err).Str("event", event).Msg("event handler failed")
		}
	}
}

// PublishWithTimeout runs the handlers for event and waits until they finish,
// the timeout elapses, or ctx is done. The first handler panic is returned as
// an error and stops the remaining handlers.
func (b *Bus) PublishWithTimeout(ctx context.Context, event string, timeout time.Duration, args ...any) error {
	subs := b.snapshot(event)
	if len(subs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSubscribers, event)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		for _, s := range subs {
			if err := invoke(s.fn, args); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, event)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Middleware moves the current subscribers of event behind fn. Handlers that
// subscribe afterwards receive the raw payload.
func (b *Bus) Middleware(event string, fn MiddlewareFunc) Subscription {
	b.mu.Lock()
	original := b.subs[event]
	delete(b.subs, event)
	b.mu.Unlock()

	return b.Subscribe(event, func(args ...any) {
		var payload any
		if len(args) > 0 {
			payload = args[0]
		}
		fn(payload, func(modified any) {
			for _, s := range original {
				if err := invoke(s.fn, []any{modified}); err != nil {
					b.logger.Error().Err(err).Str("event", event).Msg("event handler failed")
				}
			}
		})
	})
}

// Throttle returns a publisher for event that drops calls made within
// interval of the last delivered one.
func (b *Bus) Throttle(event string, interval time.Duration) func(args ...any) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(args ...any) {
		mu.Lock()
		now := b.now()
		if !last.IsZero() && now.Sub(last) < interval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()
		b.Publish(event, args...)
	}
}

// Count reports the subscribers registered for event.
func (b *Bus) Count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Stats reports subscriber counts per event.
func (b *Bus) Stats() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.subs))
	for event, subs := range b.subs {
		out[event] = len(subs)
	}
	return out
}

func (b *Bus) snapshot(event string) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]subscriber(nil), b.subs[event]...)
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
}

func invoke(fn Handler, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("eventbus: handler panic: %w", e)
				return
			}
			err = fmt.Errorf("eventbus: handler panic: %v", r)
		}
	}()
	fn(args...)
	return nil
}
