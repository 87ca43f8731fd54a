package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetState() {
	CloseAll()
	configMu.Lock()
	config = loggingConfig{}
	configLoaded = false
	logLevel = LevelInfo
	configMu.Unlock()
	logsDir = ""
	workspace = ""
}

func writeLoggingConfig(t *testing.T, ws, body string) {
	t.Helper()
	dir := filepath.Join(ws, ".foreman")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0644))
}

func TestInitializeWithoutConfigIsSilent(t *testing.T) {
	t.Cleanup(resetState)
	ws := t.TempDir()

	require.NoError(t, Initialize(ws))
	assert.False(t, IsDebugMode())

	Shift("this goes nowhere")
	_, err := os.Stat(filepath.Join(ws, ".foreman", "logs"))
	assert.True(t, os.IsNotExist(err), "production mode creates no log directory")
}

func TestInitializeDebugModeWritesCategoryFiles(t *testing.T) {
	t.Cleanup(resetState)
	ws := t.TempDir()
	writeLoggingConfig(t, ws, `{"logging": {"debug_mode": true, "level": "debug"}}`)

	require.NoError(t, Initialize(ws))
	require.True(t, IsDebugMode())

	Worker("iteration %d started", 3)
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(ws, ".foreman", "logs", date+"_worker.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "iteration 3 started")
}

func TestCategoryToggle(t *testing.T) {
	t.Cleanup(resetState)
	ws := t.TempDir()
	writeLoggingConfig(t, ws, `{"logging": {"debug_mode": true, "categories": {"tasks": false}}}`)

	require.NoError(t, Initialize(ws))
	assert.False(t, IsCategoryEnabled(CategoryTasks))
	assert.True(t, IsCategoryEnabled(CategoryShift), "unlisted categories default to enabled")

	Tasks("suppressed")
	date := time.Now().Format("2006-01-02")
	_, err := os.Stat(filepath.Join(ws, ".foreman", "logs", date+"_tasks.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestUninitializedLoggingIsANoOp(t *testing.T) {
	t.Cleanup(resetState)
	resetState()

	// Library packages log freely; without Initialize nothing happens.
	Telemetry("usage recorded")
	Recovery("verdict issued")
	Get(CategoryBoot).Error("still fine")
}

func TestTimerStop(t *testing.T) {
	t.Cleanup(resetState)
	timer := StartTimer(CategoryChecks, "build")
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))

	timer = StartTimer(CategoryChecks, "slow-op")
	elapsed = timer.StopWithThreshold(time.Nanosecond)
	assert.Greater(t, elapsed, time.Duration(0))
}
