package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewObservedLogger returns a debug level Logger whose entries can be
// inspected by tests.
func NewObservedLogger() (Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.DebugLevel)

	return NewZapAdapter(zap.New(core)), observed
}
