package eventbroker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gordian-engine/eventbroker/ebchan"
)

// Subscription is one consumer's registration on a topic,
// backed by a private buffer.
//
// Subscriptions are created by [*Broker.Subscribe]
// and live as long as the broker's registry.
// Two subscriptions never share state,
// even when they are on the same topic.
type Subscription[T any] struct {
	id    uuid.UUID
	topic string

	buf *ebchan.Channel[T]
}

func newSubscription[T any](topic string, capacity int) *Subscription[T] {
	return &Subscription[T]{
		id:    uuid.New(),
		topic: topic,

		buf: ebchan.New[T](capacity),
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription[T]) ID() uuid.UUID {
	return s.id
}

// Topic returns the topic s is registered on.
func (s *Subscription[T]) Topic() string {
	return s.topic
}

// Len reports the number of messages buffered and not yet consumed.
func (s *Subscription[T]) Len() int {
	return s.buf.Len()
}

// Next returns the oldest unconsumed message,
// blocking until one is available.
// An error is only returned if ctx is canceled first.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	v, err := s.buf.Dequeue(ctx)
	if err != nil {
		return v, fmt.Errorf("subscription on topic %q: %w", s.topic, err)
	}
	return v, nil
}

// NextOp starts receiving the oldest unconsumed message
// and returns the pending operation without blocking.
// This is useful for waiting on several subscriptions in one select.
func (s *Subscription[T]) NextOp() *ebchan.GetOp[T] {
	return s.buf.Get()
}

// deliver starts putting msg into the subscription's buffer.
func (s *Subscription[T]) deliver(msg T, onAccept func()) *ebchan.PutOp[T] {
	return s.buf.Put(msg, onAccept)
}
