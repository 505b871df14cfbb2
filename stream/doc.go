// Package stream delivers session progress events.
//
// A Log is the per-session, append-only event sequence. The producer appends
// without ever blocking on consumers; a Subscription replays the log from a
// sequence number and then follows it live until the terminal
// session_complete event. Events are serialized as Server-Sent Events frames
// by WriteSSE and can additionally be fanned out to Sinks such as NATSSink.
package stream
