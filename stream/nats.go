package stream

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/draftmesh/core"
)

// DefaultSubjectPrefix is the subject root of published session events.
const DefaultSubjectPrefix = "draftmesh.sessions"

// NATSSink publishes every event as JSON on <prefix>.<session_id>.<type>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

var _ Sink = (*NATSSink)(nil)

// NewNATSSink creates a sink on an established connection.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &NATSSink{nc: nc, prefix: prefix}
}

// Subject returns the subject ev is published on.
func (s *NATSSink) Subject(ev core.Event) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, ev.SessionID, ev.Type)
}

// Publish implements Sink.
func (s *NATSSink) Publish(ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := s.nc.Publish(s.Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	return nil
}

// Connect dials a NATS server for use by a NATSSink.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("draftmesh"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	return nc, nil
}
