package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hanpama/legend/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.Logging{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Named("executor").Info("plan executed", zap.Int("nodes", 3))
	log.Debug("hidden")
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "executor", entry["logger"])
	require.Equal(t, "plan executed", entry["msg"])
	require.Equal(t, 3.0, entry["nodes"])
	require.NotContains(t, buf.String(), "hidden")
}

func TestBuild_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.Logging{Level: "debug", Format: "console"}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	log.Debug("dispatch")
	require.True(t, strings.Contains(buf.String(), "DEBUG"), buf.String())
}

func TestBuild_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legend.log")
	var buf bytes.Buffer
	log, err := build(config.Logging{Level: "warn", Format: "console", File: path, MaxSizeMB: 1}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	log.Warn("store failed")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"store failed"`)
}

func TestBuild_Errors(t *testing.T) {
	_, err := build(config.Logging{Level: "loud"}, zapcore.AddSync(&bytes.Buffer{}))
	require.Error(t, err)
	_, err = build(config.Logging{Level: "info", Format: "xml"}, zapcore.AddSync(&bytes.Buffer{}))
	require.ErrorContains(t, err, "unknown format")
}
