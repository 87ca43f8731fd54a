package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"foreman/internal/config"
	"foreman/internal/orchestrator"
	"foreman/internal/recovery"
	"foreman/internal/shift"
	"foreman/internal/tasks"
	"foreman/internal/telemetry"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// shiftCmd runs one manager shift. Normally spawned by `foreman run`, it is
// also usable standalone for a single supervised session. Its exit code is
// the wire contract: 0 complete, 10 rotation, 20 crisis, 99 crash.
var shiftCmd = &cobra.Command{
	Use:   "shift",
	Short: "Run a single manager shift (spawned by run)",
	Run: func(cmd *cobra.Command, args []string) {
		code := runShift(cmd.Context())
		exitWith(code)
	},
}

func runShift(parent context.Context) int {
	if root := os.Getenv(orchestrator.EnvProjectRoot); root != "" {
		workspace = root
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		logger.Error("config load failed", zap.Error(err))
		return int(recovery.ExitCrash)
	}
	projectID := os.Getenv(orchestrator.EnvProjectID)
	if projectID == "" {
		projectID = cfg.ProjectID
	}
	if projectID == "" {
		projectID = "default"
	}

	store := tasks.NewStore(filepath.Join(workspace, ".foreman", "PLAN.md"))
	monitor := telemetry.NewMonitor(telemetry.Config{
		Kind:                     telemetry.KindManager,
		WindowTokens:             cfg.Telemetry.ContextWindowTokens,
		RotationThresholdPercent: cfg.Telemetry.RotationThresholdPercent,
		AbortThresholdPercent:    cfg.Telemetry.WorkerAbortThresholdPercent,
		SnapshotPath:             filepath.Join(workspace, ".foreman", "telemetry.json"),
	})
	journal := shift.NewJournal(workspace)
	spawner := orchestrator.NewSpawner(workspace, projectID, "",
		cfg.Orchestrator.ManagerGracePeriod, cfg.Orchestrator.WorkerGracePeriod)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The manager's own recovery controller classifies every code returned
	// here, so the delegate only translates process exits into the protocol.
	delegate := func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		taskDoc, err := writeTaskDoc(workspace, task)
		if err != nil {
			logger.Error("task doc write failed", zap.String("task", task.ID), zap.Error(err))
			return recovery.ExitCrash
		}
		timeout := 30 * time.Minute
		if task.Budget.MaxMinutes > 0 {
			timeout = time.Duration(task.Budget.MaxMinutes) * time.Minute
		}

		code, err := spawner.SpawnWorker(ctx, task.ID,
			requirementsDocPath(workspace), taskDoc, timeout)
		if err != nil {
			logger.Error("worker spawn failed", zap.String("task", task.ID), zap.Error(err))
		}
		return recovery.Classify(code)
	}

	m := shift.NewManager(workspace, projectID, store, monitor, journal, delegate,
		recovery.Config{
			FailureCeiling: cfg.Recovery.FailureCeiling,
			RetrySleep:     cfg.Recovery.RetrySleep,
			CrashSleep:     cfg.Recovery.CrashSleep,
		},
		cfg.Handoff.DecisionCount, cfg.Handoff.PriorityCount)
	if err := m.Start(); err != nil {
		logger.Error("shift start failed", zap.Error(err))
		return int(recovery.ExitCrash)
	}

	result, err := m.Run(ctx)
	if err != nil {
		logger.Error("shift crashed", zap.Error(err))
		return int(recovery.ExitCrash)
	}

	logger.Info("shift finished",
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
		zap.Strings("completed", result.Completed),
		zap.Strings("failed", result.Failed))
	return int(result.Outcome.ExitCode())
}

// requirementsDocPath is the global requirements document injected into
// every worker.
func requirementsDocPath(workspace string) string {
	return filepath.Join(workspace, ".foreman", "REQUIREMENTS.md")
}

// writeTaskDoc renders the current task into the second injection document,
// overwritten per delegation. Together with the requirements doc this is
// the entire worker context.
func writeTaskDoc(workspace string, task tasks.Task) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Task %s: %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&sb, "- Dependency layer: %d\n", task.Layer)
	if len(task.DependsOn) > 0 {
		fmt.Fprintf(&sb, "- Builds on: %s\n", strings.Join(task.DependsOn, ", "))
	}
	if task.Budget.MaxMinutes > 0 {
		fmt.Fprintf(&sb, "- Time budget: %d minutes\n", task.Budget.MaxMinutes)
	}
	if task.Budget.MaxFiles > 0 {
		fmt.Fprintf(&sb, "- File budget: %d files\n", task.Budget.MaxFiles)
	}
	if task.Budget.MaxLines > 0 {
		fmt.Fprintf(&sb, "- Line budget: %d lines\n", task.Budget.MaxLines)
	}

	path := filepath.Join(workspace, ".foreman", "task.md")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}
