package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_SlogJSON(t *testing.T) {
	var buf bytes.Buffer

	l, err := New(Config{Backend: "slog", Level: LogLevelInfo, Format: "json", Output: &buf})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("session started", "session_id", "s1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session started", entry["msg"])
	assert.Equal(t, "s1", entry["session_id"])
}

func TestNew_ZapJSON(t *testing.T) {
	var buf bytes.Buffer

	l, err := New(Config{Backend: "zap", Level: LogLevelDebug, Format: "json", Output: &buf})
	require.NoError(t, err)

	l.Warn("retrying", "attempt", 2)
	require.NoError(t, l.(*ZapAdapter).Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "retrying", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "syslog"})
	assert.Error(t, err)
}

func TestWith_PrependsFields(t *testing.T) {
	l, observed := NewObservedLogger()

	scoped := With(With(l, "session_id", "s1"), "agent_id", "writer")
	scoped.Info("turn complete", "turn", 3)

	entries := observed.FilterMessage("turn complete").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "s1", fields["session_id"])
	assert.Equal(t, "writer", fields["agent_id"])
	assert.EqualValues(t, 3, fields["turn"])
}

func TestLogProviderCall(t *testing.T) {
	l, observed := NewObservedLogger()

	LogProviderCall(l, "openai", "gpt-4o", 120, time.Second, nil)
	LogProviderCall(l, "openai", "gpt-4o", 0, time.Second, errors.New("429"))

	assert.Equal(t, 1, observed.FilterLevelExact(zapcore.DebugLevel).Len())
	assert.Equal(t, 1, observed.FilterLevelExact(zapcore.ErrorLevel).Len())
}
