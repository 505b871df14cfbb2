// Package model is the provider gateway of draftmesh. A Model submits one
// prompt to an upstream vendor and delivers either a single final Response or
// a sequence of partial Responses followed by the final one. Provider specific
// failures are folded into a two-class taxonomy (TransientError, FatalError)
// so callers can decide on retries without knowing the vendor SDK.
//
// Gateway routes requests to the Model registered for a provider type and adds
// rate limiting, health tracking, logging and metrics around every call.
// Concrete vendors live in the openai and anthropic subpackages; MockModel
// serves tests and offline runs.
package model
