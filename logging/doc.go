// Package logging defines the minimal Logger interface used across draftmesh
// and ships adapters for log/slog and go.uber.org/zap. Components accept a
// Logger and default to NoOpLogger, so logging never has to be configured for
// tests or embedded use.
package logging
