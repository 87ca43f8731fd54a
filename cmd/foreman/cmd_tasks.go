package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"foreman/internal/tasks"

	"github.com/spf13/cobra"
)

// tasksCmd inspects and mutates the project plan.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect the project plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTasks()
	},
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks in selector order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTasks()
	},
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done [task-id]",
	Short: "Mark a task complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := tasks.NewStore(planPath())
		if err := store.MarkComplete(args[0]); err != nil {
			if errors.Is(err, tasks.ErrTaskNotFound) {
				fmt.Printf("Task %s not found or already complete.\n", args[0])
				return nil
			}
			return err
		}
		fmt.Printf("Marked %s complete.\n", args[0])
		return nil
	},
}

var tasksNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next eligible task",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := tasks.NewStore(planPath())
		task, ok, err := store.Next()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Plan complete.")
			return nil
		}
		fmt.Printf("%s (layer %d): %s\n", task.ID, task.Layer, task.Title)
		return nil
	},
}

func planPath() string {
	return filepath.Join(workspace, ".foreman", "PLAN.md")
}

func listTasks() error {
	store := tasks.NewStore(planPath())
	list, err := store.Load()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("Plan is empty.")
		return nil
	}
	for _, t := range list {
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Printf("[%s] %-6s L%d  %s\n", mark, t.ID, t.Layer, t.Title)
	}
	return nil
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksDoneCmd)
	tasksCmd.AddCommand(tasksNextCmd)
}
