package config

import (
	"errors"
	"index-options-callbot/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_JSONAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"db_path": "data/state",
		"instruments": [
			{"name": "nifty", "strike_step": 50, "targets": {"target1": 40, "target2": 80, "target3": 130, "stop_loss": 25}}
		]
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, 600, cfg.ScanIntervalSec)
	assert.Equal(t, 60, cfg.MonitorIntervalSec)
	assert.Equal(t, 14, cfg.Indicators.RSIPeriod)
	assert.Equal(t, 50, cfg.Indicators.EMASlow)
	require.Len(t, cfg.Instruments, 1)

	inst := cfg.Instruments[0]
	assert.Equal(t, "NIFTY", inst.Name)
	assert.Equal(t, 2, inst.DailyCap)
	assert.InDelta(t, 4.0, inst.CooldownHours, 1e-9)
	assert.InDelta(t, 75.0, inst.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.3, inst.ExtensionFraction, 1e-9)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
timezone: UTC
scan_interval_sec: 120
instruments:
  - name: BANKNIFTY
    strike_step: 100
    daily_cap: 1
    cooldown_hours: 2
    targets: {target1: 80, target2: 160, target3: 280, stop_loss: 60}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 120, cfg.ScanIntervalSec)

	inst, err := cfg.Instrument("banknifty")
	require.NoError(t, err)
	assert.Equal(t, 1, inst.DailyCap)
	assert.InDelta(t, 280.0, inst.Targets.Target3, 1e-9)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvDBPath, "/tmp/callbot-db")
	t.Setenv(EnvTimezone, "UTC")

	path := writeFile(t, "config.json", `{}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogConfig.Level)
	assert.Equal(t, "/tmp/callbot-db", cfg.DBPath)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Len(t, cfg.Instruments, 4, "default instruments are used when none are configured")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(cfg *models.Config)
	}{
		{"duplicate instrument", func(cfg *models.Config) { cfg.Instruments[1].Name = cfg.Instruments[0].Name }},
		{"non increasing targets", func(cfg *models.Config) { cfg.Instruments[0].Targets.Target2 = 30 }},
		{"ema fast above slow", func(cfg *models.Config) { cfg.Indicators.EMAFast = 60 }},
		{"volatility band inverted", func(cfg *models.Config) { cfg.Scanner.MinVolatility = 0.5 }},
		{"threshold above 100", func(cfg *models.Config) { cfg.Instruments[0].ConfidenceThreshold = 120 }},
		{"unknown timezone", func(cfg *models.Config) { cfg.Timezone = "Mars/Olympus" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, Validate(cfg))
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateTargets(t *testing.T) {
	err := ValidateTargets(models.TargetDistances{Target1: 40, Target2: 80, Target3: 130, StopLoss: 0})
	assert.True(t, errors.Is(err, models.ErrInvalidTargets))

	assert.NoError(t, ValidateTargets(models.TargetDistances{Target1: 40, Target2: 80, Target3: 130, StopLoss: 25}))
}

func TestDefaultInstruments(t *testing.T) {
	insts := DefaultInstruments()
	require.Len(t, insts, 4)

	byName := map[string]models.Instrument{}
	for _, inst := range insts {
		byName[inst.Name] = inst
	}
	assert.InDelta(t, 60.0, byName["BANKNIFTY"].Targets.StopLoss, 1e-9)
	assert.InDelta(t, 100.0, byName["SENSEX"].StrikeStep, 1e-9)
	assert.InDelta(t, 100.0, byName["FINNIFTY"].Targets.Target3, 1e-9)
	assert.InDelta(t, 130.0, byName["NIFTY"].Targets.Target3, 1e-9)
}
