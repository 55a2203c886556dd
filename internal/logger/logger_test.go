package logger

import (
	"index-options-callbot/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callbot.log")
	l := New(models.LogConfig{Level: "debug", Output: "file", Format: "json", File: path, MaxSize: 1})

	l.Debug("signal rejected", zap.String("instrument", "NIFTY"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"instrument":"NIFTY"`)
	assert.Contains(t, string(data), "signal rejected")
}

func TestNew_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callbot.log")
	l := New(models.LogConfig{Level: "warn", Output: "file", File: path})

	l.Info("hidden")
	l.Warn("visible")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestInitInstallsGlobal(t *testing.T) {
	l := Init(models.LogConfig{Level: "error", Output: "console"})
	assert.Same(t, l, L())
	assert.NotNil(t, S())
}
