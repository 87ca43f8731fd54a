// Package telemetry tracks context fill for the active agent session.
// It classifies fill into zones, exposes the rotation and abort predicates,
// and persists exactly one live snapshot per project.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"foreman/internal/logging"
)

// AgentKind distinguishes manager and worker sessions.
type AgentKind string

const (
	KindManager AgentKind = "manager"
	KindWorker  AgentKind = "worker"
)

// Zone is a coarse classification of context fullness.
type Zone string

const (
	ZoneSmart     Zone = "smart"
	ZoneDegrading Zone = "degrading"
	ZoneDumb      Zone = "dumb"
)

// Zone breakpoints (fill percent). Below SmartCeiling the agent is sharp;
// at or above DumbFloor it can no longer be trusted with fresh decisions.
const (
	SmartCeiling = 40.0
	DumbFloor    = 60.0
)

// ZoneFor classifies a fill percentage. Bands are inclusive on the low side.
func ZoneFor(fillPercent float64) Zone {
	switch {
	case fillPercent < SmartCeiling:
		return ZoneSmart
	case fillPercent < DumbFloor:
		return ZoneDegrading
	default:
		return ZoneDumb
	}
}

// Status is the result of a monitor query or usage record.
type Status struct {
	FillPercent     float64 `json:"fill_percent"`
	Zone            Zone    `json:"zone"`
	TokensUsed      int     `json:"tokens_used"`
	TokensRemaining int     `json:"tokens_remaining"`
	NeedsRotation   bool    `json:"needs_rotation"`
}

// Snapshot is the single durable telemetry record per project. It is
// overwritten atomically on every heartbeat.
type Snapshot struct {
	AgentKind       AgentKind `json:"agent_kind"`
	FillPercent     float64   `json:"fill_percent"`
	Zone            Zone      `json:"zone"`
	TokensUsed      int       `json:"tokens_used"`
	TokensRemaining int       `json:"tokens_remaining"`
	TaskID          string    `json:"task_id,omitempty"`
	Heartbeat       time.Time `json:"heartbeat"`
}

// Config holds the monitor thresholds.
type Config struct {
	Kind AgentKind
	// WindowTokens is the context window size used for fill computation.
	WindowTokens int
	// RotationThresholdPercent triggers manager rotation (default DumbFloor).
	RotationThresholdPercent float64
	// AbortThresholdPercent fails a worker attempt that exceeds it.
	AbortThresholdPercent float64
	// SnapshotPath is the telemetry file, usually .foreman/telemetry.json.
	SnapshotPath string
}

// Monitor tracks token usage for one session and persists the snapshot.
type Monitor struct {
	mu sync.Mutex

	cfg        Config
	tokensUsed int
	taskID     string
}

// NewMonitor creates a monitor for a session. Zero thresholds get defaults:
// rotation at the dumb breakpoint, worker abort at 30 percent.
func NewMonitor(cfg Config) *Monitor {
	if cfg.WindowTokens <= 0 {
		cfg.WindowTokens = 200000
	}
	if cfg.RotationThresholdPercent <= 0 {
		cfg.RotationThresholdPercent = DumbFloor
	}
	if cfg.AbortThresholdPercent <= 0 {
		cfg.AbortThresholdPercent = 30
	}
	return &Monitor{cfg: cfg}
}

// RecordUsage adds consumed tokens, optionally tags the current task, and
// durably overwrites the project snapshot. Returns the updated status.
func (m *Monitor) RecordUsage(tokensUsed int, taskID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tokensUsed > 0 {
		m.tokensUsed += tokensUsed
	}
	if taskID != "" {
		m.taskID = taskID
	}

	st := m.statusLocked()
	if err := m.writeSnapshotLocked(st); err != nil {
		return st, err
	}
	logging.TelemetryDebug("usage recorded: +%d tokens, fill=%.1f%%, zone=%s", tokensUsed, st.FillPercent, st.Zone)
	return st, nil
}

// Status returns the current status without mutating usage. The snapshot is
// still rewritten so every call doubles as a heartbeat.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statusLocked()
	if err := m.writeSnapshotLocked(st); err != nil {
		logging.Get(logging.CategoryTelemetry).Warn("snapshot write failed: %v", err)
	}
	return st
}

// NeedsRotation reports whether a manager session must rotate. Always false
// for workers; a worker past its own threshold is a failed attempt, not a
// rotation candidate.
func (m *Monitor) NeedsRotation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.Kind != KindManager {
		return false
	}
	return m.fillLocked() >= m.cfg.RotationThresholdPercent
}

// ShouldAbort reports whether a worker has drifted past its fill threshold.
// Exceeding it is itself a failure signal.
func (m *Monitor) ShouldAbort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.Kind != KindWorker {
		return false
	}
	return m.fillLocked() >= m.cfg.AbortThresholdPercent
}

// Reset zeroes usage and rewrites the snapshot. Called at worker boot so no
// telemetry carries across worker invocations.
func (m *Monitor) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokensUsed = 0
	m.taskID = ""
	return m.writeSnapshotLocked(m.statusLocked())
}

func (m *Monitor) fillLocked() float64 {
	return float64(m.tokensUsed) / float64(m.cfg.WindowTokens) * 100
}

func (m *Monitor) statusLocked() Status {
	fill := m.fillLocked()
	return Status{
		FillPercent:     fill,
		Zone:            ZoneFor(fill),
		TokensUsed:      m.tokensUsed,
		TokensRemaining: m.cfg.WindowTokens - m.tokensUsed,
		NeedsRotation:   m.cfg.Kind == KindManager && fill >= m.cfg.RotationThresholdPercent,
	}
}

// writeSnapshotLocked overwrites the snapshot via temp-file-then-rename so a
// concurrent reader never observes a half-written document.
func (m *Monitor) writeSnapshotLocked(st Status) error {
	if m.cfg.SnapshotPath == "" {
		return nil
	}
	snap := Snapshot{
		AgentKind:       m.cfg.Kind,
		FillPercent:     st.FillPercent,
		Zone:            st.Zone,
		TokensUsed:      st.TokensUsed,
		TokensRemaining: st.TokensRemaining,
		TaskID:          m.taskID,
		Heartbeat:       time.Now().UTC(),
	}
	return WriteSnapshot(m.cfg.SnapshotPath, snap)
}

// WriteSnapshot atomically persists a snapshot to path.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads the current snapshot, or nil if none exists yet.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}
