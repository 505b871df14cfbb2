package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/logging"
)

var (
	// ErrConsumerAttached is returned when a second consumer subscribes to a
	// session stream.
	ErrConsumerAttached = errors.New("stream: a consumer is already attached")
	// ErrClosed is returned when appending to a log that already carries its
	// terminal event.
	ErrClosed = errors.New("stream: log closed")
)

// Sink receives every event appended to a Log.
type Sink interface {
	Publish(ev core.Event) error
}

// LogOptions configures a Log.
type LogOptions struct {
	Sinks  []Sink
	Logger logging.Logger
	// Now stamps appended events; defaults to time.Now in UTC.
	Now func() time.Time
}

// Log is the append-only event sequence of one session.
type Log struct {
	sessionID string
	opts      LogOptions

	mu       sync.Mutex
	events   []core.Event
	closed   bool
	attached bool
	notify   chan struct{}
}

// NewLog creates an empty log for sessionID.
func NewLog(sessionID string, optFns ...func(o *LogOptions)) *Log {
	opts := LogOptions{
		Logger: logging.NoOpLogger{},
		Now:    func() time.Time { return time.Now().UTC() },
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Log{
		sessionID: sessionID,
		opts:      opts,
		notify:    make(chan struct{}),
	}
}

// SessionID returns the id of the session the log belongs to.
func (l *Log) SessionID() string { return l.sessionID }

// Append stamps ev with the session id, the next sequence number (starting at
// 1) and a timestamp, and stores it. Appending session_complete closes the
// log; later appends fail with ErrClosed.
func (l *Log) Append(ev core.Event) (core.Event, error) {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return ev, ErrClosed
	}

	ev.SessionID = l.sessionID
	ev.Seq = int64(len(l.events) + 1)
	ev.Timestamp = l.opts.Now()

	l.events = append(l.events, ev)

	if ev.IsTerminal() {
		l.closed = true
	}

	close(l.notify)
	l.notify = make(chan struct{})

	l.mu.Unlock()

	for _, s := range l.opts.Sinks {
		if err := s.Publish(ev); err != nil {
			l.opts.Logger.Warn("stream sink publish failed", "session_id", l.sessionID, "type", string(ev.Type), "error", err)
		}
	}

	return ev, nil
}

// Events returns a copy of all events appended so far.
func (l *Log) Events() []core.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]core.Event(nil), l.events...)
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.events)
}

// Closed reports whether the terminal event has been appended.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closed
}

// Subscription is a single consumer's view of a Log.
type Subscription struct {
	events <-chan core.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the delivery channel. It is closed after the terminal event
// has been delivered or when the subscription ends.
func (s *Subscription) Events() <-chan core.Event { return s.events }

// Close detaches the consumer. The log is unaffected and can be subscribed
// to again, e.g. by a reconnecting client.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe attaches the single consumer of the log. Events with a sequence
// number greater than after are replayed first, then new events are
// delivered as they are appended.
func (l *Log) Subscribe(ctx context.Context, after int64) (*Subscription, error) {
	l.mu.Lock()
	if l.attached {
		l.mu.Unlock()
		return nil, ErrConsumerAttached
	}

	l.attached = true
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan core.Event)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		defer func() {
			l.mu.Lock()
			l.attached = false
			l.mu.Unlock()
		}()

		next := max(after, 0)

		for {
			l.mu.Lock()
			pending := append([]core.Event(nil), l.events[min(next, int64(len(l.events))):]...)
			closed := l.closed
			notify := l.notify
			l.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- ev:
					next = ev.Seq
				case <-ctx.Done():
					return
				}
			}

			if closed && len(pending) == 0 {
				return
			}

			if len(pending) > 0 {
				continue
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{events: out, cancel: cancel, done: done}, nil
}
