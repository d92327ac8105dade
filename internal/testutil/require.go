// Package testutil holds channel helpers for tests that coordinate
// goroutines: a connection's receive and send halves, or a server
// running alongside its clients.
package testutil

import (
	"testing"
	"time"
)

// RequireReceive returns the next value from ch. The test fails if ch is
// closed or stays empty for timeout; what names the event being awaited.
func RequireReceive[V any](t testing.TB, ch <-chan V, timeout time.Duration, what string) V {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var v V
	var ok bool
	select {
	case v, ok = <-ch:
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", what, timeout)
	}
	if !ok {
		t.Fatalf("%s: channel closed", what)
	}
	return v
}

// RequireBlocked fails the test if ch yields a value within wait, showing
// that the goroutine feeding it is still waiting.
func RequireBlocked[V any](t testing.TB, ch <-chan V, wait time.Duration, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("%s: got %v, want no value yet", what, v)
	case <-time.After(wait):
	}
}
