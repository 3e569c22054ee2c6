package ebpubsub

import "context"

// Stream is one node in a linked list of published values.
// Exactly one goroutine publishes to the tail,
// and any number of readers follow Next from whichever node they hold.
//
// A reader holding an old node keeps every later node reachable,
// so readers that stop reading should drop their reference.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an unpublished stream node.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish sets s.Val, allocates s.Next, and then closes s.Ready;
// readers must not touch Val or Next before Ready is closed.
//
// Publishing the same node twice panics.
func (s *Stream[T]) Publish(t T) {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
}

// Await blocks until s has been published or ctx is canceled.
// On success it returns s.Val and the next node to observe.
func (s *Stream[T]) Await(ctx context.Context) (T, *Stream[T], error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, s, context.Cause(ctx)
	case <-s.Ready:
		return s.Val, s.Next, nil
	}
}

// Collect returns every value already published from s onward,
// without blocking, along with the first unpublished node.
func (s *Stream[T]) Collect() ([]T, *Stream[T]) {
	var out []T
	for {
		select {
		case <-s.Ready:
			out = append(out, s.Val)
			s = s.Next
		default:
			return out, s
		}
	}
}
