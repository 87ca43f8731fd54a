package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, ws, body string) {
	t.Helper()
	dir := filepath.Join(ws, ".foreman")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0644))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 200000, cfg.Telemetry.ContextWindowTokens)
	assert.Equal(t, 60.0, cfg.Telemetry.RotationThresholdPercent)
	assert.Equal(t, 30.0, cfg.Telemetry.WorkerAbortThresholdPercent)
	assert.Equal(t, 5, cfg.Worker.RetryCeiling)
	assert.Equal(t, 3, cfg.Recovery.FailureCeiling)
	assert.Equal(t, 5*time.Second, cfg.Recovery.RetrySleep)
	assert.Equal(t, 30*time.Second, cfg.Recovery.CrashSleep)
	assert.Equal(t, 24, cfg.Orchestrator.RotationCeiling)
}

func TestLoadPartialConfigFillsDefaults(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{"worker": {"retry_ceiling": 2}, "telemetry": {"rotation_threshold_percent": 70}}`)

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Worker.RetryCeiling)
	assert.Equal(t, 70.0, cfg.Telemetry.RotationThresholdPercent)

	// Everything unset falls back.
	assert.Equal(t, 4000, cfg.Worker.OutputCapBytes)
	assert.Equal(t, 30.0, cfg.Telemetry.WorkerAbortThresholdPercent)
	assert.Equal(t, 2*time.Hour, cfg.Orchestrator.ShiftTimeout)
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, "{not json")
	_, err := Load(ws)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FOREMAN_PROJECT_ID", "alpha")
	t.Setenv("FOREMAN_ROTATION_THRESHOLD", "55.5")
	t.Setenv("FOREMAN_WORKER_ABORT_THRESHOLD", "25")
	t.Setenv("FOREMAN_RETRY_CEILING", "7")
	t.Setenv("FOREMAN_FAILURE_CEILING", "4")
	t.Setenv("FOREMAN_ROTATION_CEILING", "12")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "alpha", cfg.ProjectID)
	assert.Equal(t, 55.5, cfg.Telemetry.RotationThresholdPercent)
	assert.Equal(t, 25.0, cfg.Telemetry.WorkerAbortThresholdPercent)
	assert.Equal(t, 7, cfg.Worker.RetryCeiling)
	assert.Equal(t, 4, cfg.Recovery.FailureCeiling)
	assert.Equal(t, 12, cfg.Orchestrator.RotationCeiling)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("FOREMAN_ROTATION_THRESHOLD", "not-a-number")
	t.Setenv("FOREMAN_RETRY_CEILING", "-3")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 60.0, cfg.Telemetry.RotationThresholdPercent)
	assert.Equal(t, 5, cfg.Worker.RetryCeiling)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	cfg := Defaults()
	cfg.ProjectID = "beta"
	cfg.Worker.RetryCeiling = 9
	require.NoError(t, Save(ws, cfg))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "beta", loaded.ProjectID)
	assert.Equal(t, 9, loaded.Worker.RetryCeiling)
	assert.Equal(t, cfg.Recovery.RetrySleep, loaded.Recovery.RetrySleep)
}
