package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Sweep expired locks and release stale agents once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		report, err := rt.coordinator.Reclaim(ctx)
		if err != nil {
			return err
		}
		for _, resource := range report.SweptLocks {
			fmt.Printf("swept expired lock: %s\n", resource)
		}
		for _, agentID := range report.ReclaimedAgents {
			fmt.Printf("reclaimed stale agent: %s\n", agentID)
		}
		if len(report.SweptLocks) == 0 && len(report.ReclaimedAgents) == 0 {
			fmt.Println("nothing to reclaim")
		}
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Record that a task finished, unblocking its dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.coordinator.MarkTaskComplete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("marked %s complete\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reclaimCmd)
	rootCmd.AddCommand(completeCmd)
}
