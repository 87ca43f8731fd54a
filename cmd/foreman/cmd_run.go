package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"foreman/internal/config"
	"foreman/internal/orchestrator"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runProjectID string

// runCmd drives the full orchestration loop: repeated shift subprocesses,
// handoffs threaded between them, recovery verdicts applied in between.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full orchestration loop over the project plan",
	Long: `Spawns shift-manager subprocesses until the plan completes, a crisis is
declared, or the rotation ceiling is reached. Each rotation's handoff is fed
to the next manager. Interrupts grant in-flight shifts a bounded grace
period before forcing exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		projectID := runProjectID
		if projectID == "" {
			projectID = cfg.ProjectID
		}
		if projectID == "" {
			projectID = "default"
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		spawner := orchestrator.NewSpawner(workspace, projectID, "",
			cfg.Orchestrator.ManagerGracePeriod, cfg.Orchestrator.WorkerGracePeriod)
		orch := orchestrator.New(workspace, cfg, spawner)

		logger.Info("orchestration starting",
			zap.String("project", projectID),
			zap.Int("rotation_ceiling", cfg.Orchestrator.RotationCeiling))

		report := orch.Run(ctx)

		logger.Info("orchestration finished",
			zap.Bool("success", report.Success),
			zap.Bool("crisis", report.Crisis),
			zap.Int("rotations", report.Rotations),
			zap.Int("last_exit", report.LastExit),
			zap.String("reason", report.Reason))

		if report.Crisis {
			return fmt.Errorf("crisis after %d rotations: %s; human intervention required", report.Rotations, report.Reason)
		}
		if !report.Success {
			return fmt.Errorf("aborted after %d rotations: %s", report.Rotations, report.Reason)
		}
		fmt.Printf("Plan complete after %d rotations.\n", report.Rotations)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runProjectID, "project", "", "project identifier (default: config or \"default\")")
}
