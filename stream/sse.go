package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/draftmesh/core"
)

// WriteSSE writes ev as a single "data: <json>\n\n" frame, preceded by an
// "id: <seq>" line once the event is sequenced so that clients can resume
// with Last-Event-ID.
func WriteSSE(w io.Writer, ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if ev.Seq > 0 {
		_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data)
		return err
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)

	return err
}

// WriteHeartbeat writes an SSE comment frame that keeps proxies from closing
// an idle connection.
func WriteHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": heartbeat\n\n")
	return err
}

// Pump copies the subscription to w as SSE frames until the terminal event
// has been written, the subscription ends or ctx is done. flush is called
// after every frame when non-nil. A heartbeat is written whenever no event
// was written for the given interval; zero disables heartbeats.
func Pump(ctx context.Context, w io.Writer, flush func(), sub *Subscription, heartbeat time.Duration) error {
	var tick <-chan time.Time

	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		tick = ticker.C
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}

			if err := WriteSSE(w, ev); err != nil {
				return err
			}

			if flush != nil {
				flush()
			}

			if ev.IsTerminal() {
				return nil
			}
		case <-tick:
			if err := WriteHeartbeat(w); err != nil {
				return err
			}

			if flush != nil {
				flush()
			}
		case <-ctx.Done():
			return nil
		}
	}
}
