package testutil

import (
	"testing"
	"time"

	"github.com/hupe1980/draftmesh/core"
)

// Collect drains events until the terminal event, the channel closes or the
// timeout expires. A timeout fails the test.
func Collect(t testing.TB, events <-chan core.Event, timeout time.Duration) []core.Event {
	t.Helper()

	var out []core.Event

	deadline := time.After(timeout)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}

			out = append(out, ev)

			if ev.IsTerminal() {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out after %s waiting for events (%d received)", timeout, len(out))
			return out
		}
	}
}

// OfType returns the events of type typ in stream order.
func OfType(events []core.Event, typ core.EventType) []core.Event {
	var out []core.Event

	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}

	return out
}

// Types returns the type of every event in stream order.
func Types(events []core.Event) []core.EventType {
	out := make([]core.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}

	return out
}
