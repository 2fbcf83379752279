package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/eifionsleith/Kittybyte-IoT/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNewWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(cfgpkg.LoggingConfig{Level: "info", Format: "json"}, &buf)
	log.Named("engine").Info("command sent", zap.Uint8("id", 7), zap.String("kind", "simple_tone"))
	log.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "command sent", entry["msg"])
	assert.Equal(t, "engine", entry["logger"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 7, entry["id"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestInitLogger_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkd.log")
	log, err := InitLogger(cfgpkg.LoggingConfig{
		Level:  "debug",
		Format: "console",
		File:   cfgpkg.LumberjackConfig{Filename: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)
	log.Debug("device link connected")
	_ = log.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "device link connected")
}
