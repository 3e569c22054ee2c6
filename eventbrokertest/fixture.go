// Package eventbrokertest contains helpers for tests that use an [eventbroker.Broker].
package eventbrokertest

import (
	"context"
	"log/slog"
	"testing"

	"github.com/gordian-engine/eventbroker"
	"github.com/gordian-engine/eventbroker/internal/ebtest"
)

// Fixture holds the default dependencies for a test broker.
// Modify Cfg before calling NewBroker to change the broker's configuration.
type Fixture[T any] struct {
	T testing.TB

	Log *slog.Logger

	Cfg eventbroker.BrokerConfig
}

// NewFixture returns a Fixture with a test logger
// and an unbounded broker configuration.
func NewFixture[T any](t testing.TB) *Fixture[T] {
	t.Helper()

	return &Fixture[T]{
		T:   t,
		Log: ebtest.NewLogger(t),
	}
}

// NewBroker returns a new broker derived from ctx.
// The broker is stopped and waited on during test cleanup.
func (f *Fixture[T]) NewBroker(ctx context.Context) *eventbroker.Broker[T] {
	f.T.Helper()

	ctx, cancel := context.WithCancel(ctx)
	b := eventbroker.NewBroker[T](ctx, f.Log, f.Cfg)

	f.T.Cleanup(func() {
		cancel()
		b.Wait()
	})

	return b
}

// MustSubscribe subscribes to topic, failing the test on error.
func (f *Fixture[T]) MustSubscribe(
	ctx context.Context, b *eventbroker.Broker[T], topic string,
) *eventbroker.Subscription[T] {
	f.T.Helper()

	sub, err := b.Subscribe(ctx, topic)
	if err != nil {
		f.T.Fatalf("subscribe to %q: %v", topic, err)
	}
	return sub
}

// MustPublish publishes msg to topic, failing the test on error.
func (f *Fixture[T]) MustPublish(
	ctx context.Context, b *eventbroker.Broker[T], topic string, msg T,
) *eventbroker.Delivery {
	f.T.Helper()

	d, err := b.Publish(ctx, topic, msg)
	if err != nil {
		f.T.Fatalf("publish to %q: %v", topic, err)
	}
	return d
}
