package testutils

import (
	"testing"
	"time"

	"livecast/internal/core/domain"
)

// WaitForSnapshot reads the snapshot stream until one matches the
// predicate. It fails the test when the stream closes or the timeout
// expires first.
func WaitForSnapshot(t *testing.T, stream <-chan domain.SessionSnapshot, timeout time.Duration, match func(domain.SessionSnapshot) bool) domain.SessionSnapshot {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-stream:
			if !ok {
				t.Fatalf("snapshot stream closed before a matching snapshot arrived")
			}
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("no matching snapshot within %v", timeout)
		}
	}
}

// WaitForState is WaitForSnapshot specialized to the headline state.
func WaitForState(t *testing.T, stream <-chan domain.SessionSnapshot, timeout time.Duration, state domain.ConnectionState) domain.SessionSnapshot {
	t.Helper()
	return WaitForSnapshot(t, stream, timeout, func(snap domain.SessionSnapshot) bool {
		return snap.State == state
	})
}

// WaitClosed drains the stream until it closes and returns the last
// snapshot seen. It fails the test when the stream stays open past the
// timeout.
func WaitClosed(t *testing.T, stream <-chan domain.SessionSnapshot, timeout time.Duration) domain.SessionSnapshot {
	t.Helper()
	deadline := time.After(timeout)
	var last domain.SessionSnapshot
	for {
		select {
		case snap, ok := <-stream:
			if !ok {
				return last
			}
			last = snap
		case <-deadline:
			t.Fatalf("snapshot stream still open after %v", timeout)
		}
	}
}
