package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := New()
	var got []string
	bus.Subscribe("lead:created", func(args ...any) { got = append(got, "a:"+args[0].(string)) })
	bus.Subscribe("lead:created", func(args ...any) { got = append(got, "b:"+args[0].(string)) })

	bus.Publish("lead:created", "123")
	bus.Publish("other", "ignored")

	assert.Equal(t, []string{"a:123", "b:123"}, got)
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	bus := New()
	var calls int32
	bus.Subscribe("e", func(...any) { panic("boom") })
	bus.Subscribe("e", func(...any) { atomic.AddInt32(&calls, 1) })

	require.NotPanics(t, func() { bus.Publish("e") })
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubscriptionUnsubscribe(t *testing.T) {
	bus := New()
	var calls int
	sub := bus.Subscribe("e", func(...any) { calls++ })
	bus.Publish("e")
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Publish("e")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Count("e"))
}

func TestSubscribeOnce(t *testing.T) {
	bus := New()
	var calls int
	bus.SubscribeOnce("login", func(...any) { calls++ })

	bus.Publish("login")
	bus.Publish("login")

	assert.Equal(t, 1, calls)
	assert.Empty(t, bus.Stats())
}

func TestUnsubscribeEventDropsAll(t *testing.T) {
	bus := New()
	bus.Subscribe("e", func(...any) {})
	bus.Subscribe("e", func(...any) {})
	bus.Subscribe("f", func(...any) {})

	bus.Unsubscribe("e")
	assert.Equal(t, map[string]int{"f": 1}, bus.Stats())
}

func TestPublishWithTimeout(t *testing.T) {
	bus := New()
	ctx := context.Background()

	err := bus.PublishWithTimeout(ctx, "none", time.Second)
	require.ErrorIs(t, err, ErrNoSubscribers)

	bus.Subscribe("fast", func(...any) {})
	require.NoError(t, bus.PublishWithTimeout(ctx, "fast", time.Second))

	release := make(chan struct{})
	defer close(release)
	bus.Subscribe("slow", func(...any) { <-release })
	err = bus.PublishWithTimeout(ctx, "slow", 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	bus.Subscribe("bad", func(...any) { panic(errors.New("handler failed")) })
	err = bus.PublishWithTimeout(ctx, "bad", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler failed")
}

func TestMiddlewareRewritesPayload(t *testing.T) {
	bus := New()
	var got any
	bus.Subscribe("user:login", func(args ...any) { got = args[0] })

	bus.Middleware("user:login", func(payload any, next func(any)) {
		next(map[string]any{"user": payload, "stamped": true})
	})
	bus.Publish("user:login", "ada")

	assert.Equal(t, map[string]any{"user": "ada", "stamped": true}, got)
	assert.Equal(t, 1, bus.Count("user:login"))
}

func TestThrottle(t *testing.T) {
	bus := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return now }

	var calls int
	bus.Subscribe("tick", func(...any) { calls++ })
	publish := bus.Throttle("tick", time.Second)

	publish()
	publish()
	now = now.Add(500 * time.Millisecond)
	publish()
	now = now.Add(600 * time.Millisecond)
	publish()

	assert.Equal(t, 2, calls)
}
