package main

import (
	"fmt"
	"os"

	"foreman/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "foreman - shift rotation engine for ephemeral coding agents",
	Long: `foreman coordinates a hierarchy of ephemeral, stateless coding agents
through a backlog of atomic tasks without letting any agent's context grow
stale.

A top-level supervisor spawns shift managers as subprocesses; each manager
delegates one task at a time to a single worker, rotates via a handoff
document when its context fills, and speaks to its supervisor only through
files and exit codes.

Exit-code protocol: 0 success, 1 task failed, 10 rotation, 20 crisis,
99 crash.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "project root (default: current directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(shiftCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(crisisCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitWith syncs logs and terminates with a protocol exit code. Used by the
// shift and task commands, whose exit code is the wire contract with their
// supervisor.
func exitWith(code int) {
	logging.CloseAll()
	if logger != nil {
		_ = logger.Sync()
	}
	os.Exit(code)
}
