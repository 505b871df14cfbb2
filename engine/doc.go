// Package engine implements the session orchestration layer of draftmesh.
//
// The Engine is the state machine of refinement sessions. It validates and
// creates sessions, runs them round by round and exposes the control
// operations (start, pause, resume, stop, reset) to outer layers.
//
// # Rounds and phases
//
// Every round runs the active agents in three phases:
//
//	phase 1  writers       sequential, each sees the previous writer's document
//	phase 2  editors       concurrent fan-out/fan-in over the post-phase-1 snapshot
//	phase 3  synthesizers  sequential, consume the combined phase-2 feedback
//
// The next round's writers receive the last synthesizer directive (or the
// combined editor feedback when no synthesizer succeeded). An editor failure
// is isolated to its turn; a writer or synthesizer failure aborts the round
// without round_complete. The session then moves on to the next round, or
// ends on the round limit without a final writer pass. Only internal
// scheduling errors fail a session.
//
// # Turn numbering
//
// Turns are numbered in the order they complete. Phase-2 results are
// recorded by the session goroutine as they arrive from the barrier, so two
// runs with identical outputs but different editor latencies may number the
// editor turns differently.
//
// # Control
//
// Pause and stop are values checked at turn boundaries and between retries.
// A paused session starts no new turn but lets in-flight turns finish; a stop
// takes effect at the next boundary, immediately when paused. After each
// round the termination evaluator checks, in order, the round limit, the
// score threshold, a pending stop and credit depletion.
//
// # Events
//
// Each run appends to a per-session stream.Log, which StartStreaming and
// Subscribe expose to exactly one consumer at a time. Exactly one
// session_complete event ends every run.
package engine
