package main

import (
	"fmt"
	"strings"

	"foreman/internal/orchestrator"

	"github.com/spf13/cobra"
)

var crisisClear bool

// crisisCmd is the manual crisis trigger: it halts all subprocess spawning
// before the orchestrator's next shift. Clearing the flag is always a human
// decision.
var crisisCmd = &cobra.Command{
	Use:   "crisis [reason...]",
	Short: "Trigger (or clear) a manual crisis halt",
	RunE: func(cmd *cobra.Command, args []string) error {
		if crisisClear {
			if err := orchestrator.ClearCrisis(workspace); err != nil {
				return err
			}
			fmt.Println("Crisis flag cleared.")
			return nil
		}
		reason := strings.Join(args, " ")
		if err := orchestrator.TriggerCrisis(workspace, reason); err != nil {
			return err
		}
		fmt.Println("Crisis flag set. No further subprocesses will be spawned.")
		return nil
	},
}

func init() {
	crisisCmd.Flags().BoolVar(&crisisClear, "clear", false, "clear the crisis flag instead of setting it")
}
