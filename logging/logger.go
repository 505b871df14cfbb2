package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from
// the backend.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface. Args are alternating
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// Config selects and configures a logging backend.
type Config struct {
	Backend string // slog or zap
	Level   LogLevel
	Format  string // json or text
	Output  io.Writer
}

// DefaultConfig returns a JSON info level slog configuration writing to stderr.
func DefaultConfig() Config {
	return Config{Backend: "slog", Level: LogLevelInfo, Format: "json", Output: os.Stderr}
}

// New builds a Logger for cfg.
func New(cfg Config) (Logger, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	switch cfg.Backend {
	case "", "slog":
		opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level)}

		var handler slog.Handler
		if cfg.Format == "text" {
			handler = slog.NewTextHandler(cfg.Output, opts)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, opts)
		}

		return NewSlogAdapter(slog.New(handler)), nil
	case "zap":
		return newZapLogger(cfg), nil
	default:
		return nil, fmt.Errorf("unknown logging backend %q", cfg.Backend)
	}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type withLogger struct {
	base Logger
	args []any
}

// With returns a Logger that prepends args to every entry.
func With(l Logger, args ...any) Logger {
	if l == nil {
		return NoOpLogger{}
	}

	if w, ok := l.(*withLogger); ok {
		return &withLogger{base: w.base, args: append(append([]any(nil), w.args...), args...)}
	}

	return &withLogger{base: l, args: args}
}

func (w *withLogger) merge(args []any) []any {
	return append(append(make([]any, 0, len(w.args)+len(args)), w.args...), args...)
}

func (w *withLogger) Debug(msg string, args ...any) { w.base.Debug(msg, w.merge(args)...) }
func (w *withLogger) Info(msg string, args ...any)  { w.base.Info(msg, w.merge(args)...) }
func (w *withLogger) Warn(msg string, args ...any)  { w.base.Warn(msg, w.merge(args)...) }
func (w *withLogger) Error(msg string, args ...any) { w.base.Error(msg, w.merge(args)...) }

// LogProviderCall records model call latency, token usage and success.
func LogProviderCall(l Logger, provider, model string, tokens int, dur time.Duration, err error) {
	if err != nil {
		l.Error("provider call failed", "provider", provider, "model", model, "duration", dur, "error", err)
		return
	}

	l.Debug("provider call completed", "provider", provider, "model", model, "token_count", tokens, "duration", dur)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
