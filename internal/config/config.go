// Package config loads foreman configuration from .foreman/config.json.
// This is the single source of truth for thresholds, ceilings and backoffs.
// Environment variables prefixed FOREMAN_ override individual fields so a
// supervising process can tune a spawned agent without rewriting its config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds ALL foreman configuration from .foreman/config.json.
type Config struct {
	// ProjectID identifies the project in telemetry and session records.
	ProjectID string `json:"project_id,omitempty"`

	// Telemetry thresholds (percentages of the context window)
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// Worker retry loop settings
	Worker WorkerConfig `json:"worker,omitempty"`

	// Recovery controller settings
	Recovery RecoveryConfig `json:"recovery,omitempty"`

	// Orchestrator supervision settings
	Orchestrator OrchestratorConfig `json:"orchestrator,omitempty"`

	// Handoff snapshot bounds
	Handoff HandoffConfig `json:"handoff,omitempty"`

	// Logging configuration (consumed by internal/logging)
	Logging LoggingConfig `json:"logging,omitempty"`
}

// TelemetryConfig controls context-fill monitoring.
type TelemetryConfig struct {
	// ContextWindowTokens is the assumed token window for fill computation.
	ContextWindowTokens int `json:"context_window_tokens,omitempty"`
	// RotationThresholdPercent is the manager rotation trigger (default 60,
	// the dumb-zone breakpoint).
	RotationThresholdPercent float64 `json:"rotation_threshold_percent,omitempty"`
	// WorkerAbortThresholdPercent fails a worker attempt that drifts out of
	// the smart zone (default 30).
	WorkerAbortThresholdPercent float64 `json:"worker_abort_threshold_percent,omitempty"`
}

// WorkerConfig controls the edit/build/test retry loop.
type WorkerConfig struct {
	RetryCeiling     int `json:"retry_ceiling,omitempty"`      // default 5
	OutputCapBytes   int `json:"output_cap_bytes,omitempty"`   // default 4000
	SummaryCapTokens int `json:"summary_cap_tokens,omitempty"` // default 200
}

// RecoveryConfig controls exit-code escalation.
type RecoveryConfig struct {
	FailureCeiling int           `json:"failure_ceiling,omitempty"` // default 3
	RetrySleep     time.Duration `json:"retry_sleep,omitempty"`     // default 5s
	CrashSleep     time.Duration `json:"crash_sleep,omitempty"`     // default 30s
}

// OrchestratorConfig controls subprocess supervision.
type OrchestratorConfig struct {
	RotationCeiling    int           `json:"rotation_ceiling,omitempty"`     // default 24
	ShiftTimeout       time.Duration `json:"shift_timeout,omitempty"`        // default 2h
	ManagerGracePeriod time.Duration `json:"manager_grace_period,omitempty"` // default 30s
	WorkerGracePeriod  time.Duration `json:"worker_grace_period,omitempty"`  // default 10s
}

// HandoffConfig bounds the snapshot lists in handoff documents.
type HandoffConfig struct {
	DecisionCount int `json:"decision_count,omitempty"` // default 5
	PriorityCount int `json:"priority_count,omitempty"` // default 5
}

// LoggingConfig mirrors the block read by internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
}

// Defaults returns a Config with every tunable at its default.
func Defaults() Config {
	return Config{
		Telemetry: TelemetryConfig{
			ContextWindowTokens:         200000,
			RotationThresholdPercent:    60,
			WorkerAbortThresholdPercent: 30,
		},
		Worker: WorkerConfig{
			RetryCeiling:     5,
			OutputCapBytes:   4000,
			SummaryCapTokens: 200,
		},
		Recovery: RecoveryConfig{
			FailureCeiling: 3,
			RetrySleep:     5 * time.Second,
			CrashSleep:     30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			RotationCeiling:    24,
			ShiftTimeout:       2 * time.Hour,
			ManagerGracePeriod: 30 * time.Second,
			WorkerGracePeriod:  10 * time.Second,
		},
		Handoff: HandoffConfig{
			DecisionCount: 5,
			PriorityCount: 5,
		},
	}
}

// Load reads .foreman/config.json under workspace, fills defaults for any
// unset field and applies FOREMAN_* environment overrides. A missing config
// file is not an error; defaults apply.
func Load(workspace string) (Config, error) {
	cfg := Defaults()

	path := filepath.Join(workspace, ".foreman", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	fillDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the config back to .foreman/config.json.
func Save(workspace string, cfg Config) error {
	dir := filepath.Join(workspace, ".foreman")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// fillDefaults replaces zero values with defaults after unmarshal.
func fillDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Telemetry.ContextWindowTokens <= 0 {
		cfg.Telemetry.ContextWindowTokens = def.Telemetry.ContextWindowTokens
	}
	if cfg.Telemetry.RotationThresholdPercent <= 0 {
		cfg.Telemetry.RotationThresholdPercent = def.Telemetry.RotationThresholdPercent
	}
	if cfg.Telemetry.WorkerAbortThresholdPercent <= 0 {
		cfg.Telemetry.WorkerAbortThresholdPercent = def.Telemetry.WorkerAbortThresholdPercent
	}
	if cfg.Worker.RetryCeiling <= 0 {
		cfg.Worker.RetryCeiling = def.Worker.RetryCeiling
	}
	if cfg.Worker.OutputCapBytes <= 0 {
		cfg.Worker.OutputCapBytes = def.Worker.OutputCapBytes
	}
	if cfg.Worker.SummaryCapTokens <= 0 {
		cfg.Worker.SummaryCapTokens = def.Worker.SummaryCapTokens
	}
	if cfg.Recovery.FailureCeiling <= 0 {
		cfg.Recovery.FailureCeiling = def.Recovery.FailureCeiling
	}
	if cfg.Recovery.RetrySleep <= 0 {
		cfg.Recovery.RetrySleep = def.Recovery.RetrySleep
	}
	if cfg.Recovery.CrashSleep <= 0 {
		cfg.Recovery.CrashSleep = def.Recovery.CrashSleep
	}
	if cfg.Orchestrator.RotationCeiling <= 0 {
		cfg.Orchestrator.RotationCeiling = def.Orchestrator.RotationCeiling
	}
	if cfg.Orchestrator.ShiftTimeout <= 0 {
		cfg.Orchestrator.ShiftTimeout = def.Orchestrator.ShiftTimeout
	}
	if cfg.Orchestrator.ManagerGracePeriod <= 0 {
		cfg.Orchestrator.ManagerGracePeriod = def.Orchestrator.ManagerGracePeriod
	}
	if cfg.Orchestrator.WorkerGracePeriod <= 0 {
		cfg.Orchestrator.WorkerGracePeriod = def.Orchestrator.WorkerGracePeriod
	}
	if cfg.Handoff.DecisionCount <= 0 {
		cfg.Handoff.DecisionCount = def.Handoff.DecisionCount
	}
	if cfg.Handoff.PriorityCount <= 0 {
		cfg.Handoff.PriorityCount = def.Handoff.PriorityCount
	}
}

// applyEnvOverrides lets a supervisor tune a spawned process per-run.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FOREMAN_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("FOREMAN_ROTATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Telemetry.RotationThresholdPercent = f
		}
	}
	if v := os.Getenv("FOREMAN_WORKER_ABORT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Telemetry.WorkerAbortThresholdPercent = f
		}
	}
	if v := os.Getenv("FOREMAN_RETRY_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.RetryCeiling = n
		}
	}
	if v := os.Getenv("FOREMAN_FAILURE_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Recovery.FailureCeiling = n
		}
	}
	if v := os.Getenv("FOREMAN_ROTATION_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.RotationCeiling = n
		}
	}
}
