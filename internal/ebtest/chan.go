package ebtest

import (
	"testing"
	"time"
)

// ScheduleTimeout is how long the channel helpers wait
// before deciding that a send or receive is not going to happen.
// It is long enough to tolerate goroutine scheduling on a busy machine.
const ScheduleTimeout = 100 * time.Millisecond

// ReceiveSoon receives a value from ch,
// failing the test if no value arrives within [ScheduleTimeout].
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(ScheduleTimeout):
		t.Fatalf("no receive within %s", ScheduleTimeout)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScheduleTimeout].
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
		// Okay.
	case <-time.After(ScheduleTimeout):
		t.Fatalf("no send within %s", ScheduleTimeout)
	}
}

// IsSending asserts that ch is immediately ready to receive from,
// typically because it has been closed.
func IsSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		// Okay.
	default:
		t.Fatal("channel should have been ready to receive")
	}
}

// NotSending asserts that ch does not become ready
// within a short scheduling window.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel should not have been ready to receive")
	case <-time.After(10 * time.Millisecond):
		// Okay.
	}
}
