package ebchan

import (
	"context"
	"fmt"
	"sync"
)

// Unbounded is the capacity value for a [Channel]
// whose puts never wait for space.
const Unbounded = -1

// Channel is a FIFO queue of values with a fixed or unbounded capacity.
//
// The number of pending values never exceeds the capacity.
// Puts that arrive while the channel is full wait in a FIFO queue,
// and gets that arrive while the channel is empty wait in another.
//
// Channel is safe for concurrent use.
type Channel[T any] struct {
	mu sync.Mutex

	capacity int

	// Pending values, oldest first.
	items []T

	putters []*PutOp[T]
	getters []*GetOp[T]
}

// New returns a new Channel with the given capacity,
// which must be either positive or [Unbounded].
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 && capacity != Unbounded {
		panic(fmt.Errorf(
			"BUG: channel capacity must be positive or Unbounded (got %d)", capacity,
		))
	}

	return &Channel[T]{
		capacity: capacity,
	}
}

// Put starts an operation to append v to the channel.
// Put never blocks.
//
// If no earlier put is waiting and the channel has room,
// v is appended and the returned operation is resolved before Put returns.
// Otherwise the operation waits until a get frees space
// and all earlier waiting puts have been admitted.
//
// If onAccept is not nil, it is called exactly once,
// after v has been appended and without the channel lock held.
// It may be called on the goroutine calling Put,
// or on the goroutine whose get made room for v.
func (c *Channel[T]) Put(v T, onAccept func()) *PutOp[T] {
	op := &PutOp[T]{
		c:        c,
		val:      v,
		onAccept: onAccept,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.putters = append(c.putters, op)
	accepted := c.settle()
	c.mu.Unlock()

	runAccepted(accepted)

	return op
}

// Get starts an operation to remove the oldest value from the channel.
// Get never blocks.
//
// If no earlier get is waiting and a value is pending,
// the returned operation is resolved before Get returns.
// Otherwise the operation waits until a value is available
// and all earlier waiting gets have been served.
func (c *Channel[T]) Get() *GetOp[T] {
	op := &GetOp[T]{
		c:    c,
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.getters = append(c.getters, op)
	accepted := c.settle()
	c.mu.Unlock()

	runAccepted(accepted)

	return op
}

// Enqueue appends v to the channel,
// blocking while the channel is full.
//
// If ctx is canceled before v is appended,
// the put is withdrawn and an error is returned.
func (c *Channel[T]) Enqueue(ctx context.Context, v T) error {
	op := c.Put(v, nil)

	select {
	case <-op.done:
		return nil

	case <-ctx.Done():
		if op.Cancel() {
			return fmt.Errorf(
				"context canceled while waiting to enqueue: %w", context.Cause(ctx),
			)
		}

		// The put was accepted concurrently with the cancellation.
		return nil
	}
}

// Dequeue removes and returns the oldest value in the channel,
// blocking while the channel is empty.
//
// If ctx is canceled before a value is available,
// the get is withdrawn and an error is returned.
func (c *Channel[T]) Dequeue(ctx context.Context) (T, error) {
	op := c.Get()

	select {
	case <-op.done:
		return op.val, nil

	case <-ctx.Done():
		if op.Cancel() {
			var zero T
			return zero, fmt.Errorf(
				"context canceled while waiting to dequeue: %w", context.Cause(ctx),
			)
		}

		// Resolved while we were canceling, so don't lose the value.
		return op.val, nil
	}
}

// Len reports the number of pending values.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cap reports the channel's capacity, which may be [Unbounded].
func (c *Channel[T]) Cap() int {
	return c.capacity
}

// WaitingPuts reports the number of puts waiting for space.
func (c *Channel[T]) WaitingPuts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.putters)
}

// WaitingGets reports the number of gets waiting for a value.
func (c *Channel[T]) WaitingGets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.getters)
}

func (c *Channel[T]) hasRoom() bool {
	return c.capacity == Unbounded || len(c.items) < c.capacity
}

// settle resolves as many waiting operations as possible,
// always taking from the head of each wait queue.
// It returns the accept callbacks of resolved puts,
// which the caller must run after releasing c.mu.
//
// The caller must hold c.mu.
func (c *Channel[T]) settle() (accepted []func()) {
	for {
		progressed := false

		for len(c.putters) > 0 && c.hasRoom() {
			op := c.putters[0]
			c.putters[0] = nil
			c.putters = c.putters[1:]

			c.items = append(c.items, op.val)
			op.resolved = true
			close(op.done)
			if op.onAccept != nil {
				accepted = append(accepted, op.onAccept)
			}

			progressed = true
		}

		for len(c.getters) > 0 && len(c.items) > 0 {
			op := c.getters[0]
			c.getters[0] = nil
			c.getters = c.getters[1:]

			op.val = c.items[0]
			var zero T
			c.items[0] = zero
			c.items = c.items[1:]

			op.resolved = true
			close(op.done)

			progressed = true
		}

		if !progressed {
			return accepted
		}
	}
}

func runAccepted(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
