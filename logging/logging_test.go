package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/logging"
)

func TestJSONRecordShape(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(&buf, "stakebox", config.LogConfig{Level: "info", Env: "test"})
	require.NoError(t, err)

	l.Info("block produced", "height", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "block produced", rec["message"])
	assert.Equal(t, "INFO", rec["severity"])
	assert.Equal(t, "stakebox", rec["service"])
	assert.Equal(t, "test", rec["env"])
	assert.EqualValues(t, 7, rec["height"])
	assert.Contains(t, rec, "timestamp")
}

func TestLevelVarFiltersAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(&buf, "stakebox", config.LogConfig{Level: "warn"})
	require.NoError(t, err)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Level.Set(slog.LevelDebug)
	l.Debug("shown")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := logging.ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestUnknownFormatRejected(t *testing.T) {
	_, err := logging.New(&bytes.Buffer{}, "stakebox", config.LogConfig{Format: "xml"})
	assert.Error(t, err)
}
