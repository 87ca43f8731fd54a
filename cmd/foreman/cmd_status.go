package main

import (
	"fmt"
	"path/filepath"

	"foreman/internal/telemetry"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusWatch bool

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(16)
	smartStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	degrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dumbStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// statusCmd shows the live telemetry snapshot. With --watch it tails the
// snapshot file as agents overwrite it.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current agent telemetry snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(workspace, ".foreman", "telemetry.json")

		if err := printSnapshot(path); err != nil {
			return err
		}
		if !statusWatch {
			return nil
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer watcher.Close()

		// Watch the directory: the snapshot is replaced by rename, which
		// would drop a watch on the file itself.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
		}

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if err := printSnapshot(path); err != nil {
					logger.Warn("snapshot read failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("watcher error", zap.Error(err))
			}
		}
	},
}

func printSnapshot(path string) error {
	snap, err := telemetry.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Println("No telemetry yet. Start a run first.")
		return nil
	}

	zone := string(snap.Zone)
	switch snap.Zone {
	case telemetry.ZoneSmart:
		zone = smartStyle.Render(zone)
	case telemetry.ZoneDegrading:
		zone = degrStyle.Render(zone)
	case telemetry.ZoneDumb:
		zone = dumbStyle.Render(zone)
	}

	fmt.Printf("%s %s\n", labelStyle.Render("Agent"), snap.AgentKind)
	fmt.Printf("%s %.1f%% (%s)\n", labelStyle.Render("Context fill"), snap.FillPercent, zone)
	fmt.Printf("%s %d used / %d remaining\n", labelStyle.Render("Tokens"), snap.TokensUsed, snap.TokensRemaining)
	if snap.TaskID != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("Current task"), snap.TaskID)
	}
	fmt.Printf("%s %s\n", labelStyle.Render("Heartbeat"), snap.Heartbeat.Local().Format("15:04:05"))
	fmt.Println()
	return nil
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "keep watching the snapshot for updates")
}
