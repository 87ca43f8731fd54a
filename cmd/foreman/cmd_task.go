package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"foreman/internal/checks"
	"foreman/internal/config"
	"foreman/internal/recovery"
	"foreman/internal/telemetry"
	"foreman/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// taskCmd runs one worker: boot from the environment contract, run the
// ralph loop, write the completion record, exit with the protocol code.
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run a single worker for one task (spawned by shift)",
	Run: func(cmd *cobra.Command, args []string) {
		code := runTask(cmd.Context())
		exitWith(code)
	},
}

func runTask(parent context.Context) int {
	ws, session, err := worker.BootFromEnv()
	if err != nil {
		// Missing required input is a crash, not a retryable failure.
		logger.Error("worker boot failed", zap.Error(err))
		return int(recovery.ExitCrash)
	}
	workspace = ws

	cfg, err := config.Load(workspace)
	if err != nil {
		logger.Error("config load failed", zap.Error(err))
		return int(recovery.ExitCrash)
	}
	tools, err := config.LoadTools(workspace)
	if err != nil {
		logger.Error("tools config load failed", zap.Error(err))
		return int(recovery.ExitCrash)
	}

	monitor := telemetry.NewMonitor(telemetry.Config{
		Kind:                  telemetry.KindWorker,
		WindowTokens:          cfg.Telemetry.ContextWindowTokens,
		AbortThresholdPercent: cfg.Telemetry.WorkerAbortThresholdPercent,
		SnapshotPath:          filepath.Join(workspace, ".foreman", "telemetry.json"),
	})
	runner := checks.NewRunner(workspace, cfg.Worker.OutputCapBytes)

	w, err := worker.New(workspace, session, cfg, tools, runner, monitor)
	if err != nil {
		logger.Error("worker assembly failed", zap.Error(err))
		return int(recovery.ExitCrash)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	record, code := w.Run(ctx)
	logger.Info("worker finished",
		zap.String("task", session.TaskID),
		zap.Int("iterations", record.Iterations),
		zap.Bool("build", record.BuildPassed),
		zap.Bool("tests", record.TestsPassed),
		zap.String("exit", code.String()))
	return int(code)
}
