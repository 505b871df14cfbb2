// Package agent executes single agent turns against the provider gateway.
//
// An Executor builds the prompt of a turn from the agent's role, the working
// document snapshot and the feedback context, streams the provider response
// as agent_token events, retries transient provider failures with
// exponential backoff and finally runs the evaluation parser over the
// response. Parallel is the fan-out/fan-in barrier the scheduler uses for the
// editor phase.
//
// Turn numbers, credits and history are owned by the caller; the executor
// only reports a settled TurnResult.
package agent
