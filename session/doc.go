// Package session houses concrete implementations of core.SessionRepository.
// The interface itself lives in the core package so that the engine depends
// only on the contract; the wiring layer decides which backend to use.
package session
