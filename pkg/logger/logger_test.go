package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo}).With(Component("ledger"))

	log.Debug("hidden")
	log.Info("xp awarded", UserID("u-1"), XPAmount(25), Err(errors.New("none")))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "xp awarded", entry.Message)
	assert.Equal(t, "ledger", entry.Fields["component"])
	assert.Equal(t, "u-1", entry.Fields["user_id"])
	assert.Equal(t, float64(25), entry.Fields["xp_amount"])
	assert.Equal(t, "none", entry.Fields["error"])
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelDebug})

	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestLevel_Slog(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug").Slog())
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning").Slog())
	assert.Equal(t, slog.LevelError, LevelFatal.Slog())
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus").Slog())
}
