// Package core provides the domain types and narrow interfaces shared by the
// draftmesh packages:
//
//   - Session configuration (agents, phases, termination condition)
//   - Exchange turns and parsed evaluations (append-only history)
//   - Stream events (the discriminated union delivered to consumers)
//   - The consumed collaborator interfaces (session repository, credits service)
//   - The error taxonomy used across the engine
//
// Concrete behavior (scheduling, provider calls, metering) lives in the engine,
// agent, model and credit packages. core only depends on uuid and yaml.v3 so
// that every other package can import it.
package core
