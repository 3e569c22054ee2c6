package eventbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
)

// Delivery is the completion signal of a single publish.
//
// It is done once every subscription targeted by the publish
// has accepted the message into its buffer.
// Subscriptions with a full buffer accept the message
// only after their consumer frees space,
// so a Delivery is gated by the slowest subscriber.
type Delivery struct {
	topic string

	// Subscription IDs in registration order,
	// matching the bit indices of pending.
	targets []uuid.UUID

	mu      sync.Mutex
	pending *bitset.BitSet

	done chan struct{}
}

func newDelivery(topic string, targets []uuid.UUID) *Delivery {
	d := &Delivery{
		topic:   topic,
		targets: targets,

		pending: bitset.New(uint(len(targets))),

		done: make(chan struct{}),
	}

	if len(targets) == 0 {
		close(d.done)
		return d
	}

	// Every target must be marked pending before any put is issued,
	// otherwise an immediate accept could close done too early.
	d.pending.FlipRange(0, uint(len(targets)))
	return d
}

// acceptFunc returns the callback to run when the target at index idx
// has accepted the message.
func (d *Delivery) acceptFunc(idx uint) func() {
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if !d.pending.Test(idx) {
			panic(fmt.Errorf(
				"BUG: delivery target %d on topic %q accepted more than once",
				idx, d.topic,
			))
		}

		d.pending.Clear(idx)
		if d.pending.None() {
			close(d.done)
		}
	}
}

// Done returns a channel that is closed once every targeted subscription
// has accepted the message.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the delivery is done or ctx is canceled.
// An error is only returned on context cancellation;
// the delivery itself continues in the background.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf(
			"context canceled while waiting for delivery on topic %q: %w",
			d.topic, context.Cause(ctx),
		)
	case <-d.done:
		return nil
	}
}

// Topic reports the topic that was published to.
func (d *Delivery) Topic() string {
	return d.topic
}

// Targets reports how many subscriptions the publish targeted.
func (d *Delivery) Targets() int {
	return len(d.targets)
}

// Pending reports how many targeted subscriptions
// have not yet accepted the message.
func (d *Delivery) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.pending.Count())
}

// PendingSubscriptions returns the IDs of the subscriptions
// that have not yet accepted the message, in registration order.
func (d *Delivery) PendingSubscriptions() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]uuid.UUID, 0, d.pending.Count())
	for i, ok := d.pending.NextSet(0); ok; i, ok = d.pending.NextSet(i + 1) {
		out = append(out, d.targets[i])
	}
	return out
}
