package ebchan

import "errors"

// PutOp is a put operation started by [*Channel.Put].
type PutOp[T any] struct {
	c *Channel[T]

	val      T
	onAccept func()

	done chan struct{}

	// Guarded by c.mu.
	resolved, canceled bool
}

// Done returns a channel that is closed once the value has been appended.
// It is never closed for a canceled operation.
func (op *PutOp[T]) Done() <-chan struct{} {
	return op.done
}

// Cancel withdraws the put if it is still waiting,
// reporting whether it did so.
// Cancel returns false if the value was already appended.
func (op *PutOp[T]) Cancel() bool {
	c := op.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if op.resolved {
		return false
	}
	if op.canceled {
		return true
	}

	for i, p := range c.putters {
		if p == op {
			c.putters = append(c.putters[:i], c.putters[i+1:]...)
			break
		}
	}
	op.canceled = true
	return true
}

// GetOp is a get operation started by [*Channel.Get].
type GetOp[T any] struct {
	c *Channel[T]

	val T

	done chan struct{}

	// Guarded by c.mu.
	resolved, canceled bool
}

// Done returns a channel that is closed once a value has been received.
// It is never closed for a canceled operation.
func (op *GetOp[T]) Done() <-chan struct{} {
	return op.done
}

// Val returns the received value.
// It panics if called before the channel returned by Done is closed.
func (op *GetOp[T]) Val() T {
	select {
	case <-op.done:
		return op.val
	default:
		panic(errors.New("BUG: GetOp.Val called before the get resolved"))
	}
}

// Cancel withdraws the get if it is still waiting,
// reporting whether it did so.
// Cancel returns false if a value was already received;
// in that case the value is still available through Val.
func (op *GetOp[T]) Cancel() bool {
	c := op.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if op.resolved {
		return false
	}
	if op.canceled {
		return true
	}

	for i, g := range c.getters {
		if g == op {
			c.getters = append(c.getters[:i], c.getters[i+1:]...)
			break
		}
	}
	op.canceled = true
	return true
}
