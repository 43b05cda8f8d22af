package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active agents and held locks",
	Long: `Runs a reclamation pass, then prints the active agents, the locks
they hold, and whether coordination is currently enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		report, err := rt.coordinator.Status(ctx)
		if err != nil {
			return err
		}

		enabled := "enabled"
		if !report.CoordinationEnabled {
			enabled = "DISABLED (store unavailable)"
		}
		fmt.Printf("coordination: %s\n", enabled)
		fmt.Printf("active agents: %d\n", report.ActiveAgents)
		fmt.Printf("active locks: %d\n\n", report.ActiveLocks)

		if len(report.Agents) > 0 {
			fmt.Printf("%-20s %-24s %-10s %-10s %s\n", "AGENT", "TASK", "STATUS", "HEARTBEAT", "LOCKS")
			for _, a := range report.Agents {
				age := report.GeneratedAt.Sub(a.Heartbeat).Round(time.Second)
				fmt.Printf("%-20s %-24s %-10s %-10s %s\n",
					a.ID, a.CurrentTask, a.Status, age, strings.Join(a.LockedResources, ", "))
			}
			fmt.Println()
		}

		if len(report.Locks) > 0 {
			fmt.Printf("%-32s %-20s %-6s %s\n", "RESOURCE", "HOLDER", "MODE", "EXPIRES IN")
			for _, l := range report.Locks {
				remaining := l.ExpiresAt.Sub(report.GeneratedAt).Round(time.Second)
				fmt.Printf("%-32s %-20s %-6s %s\n", l.Resource, l.Holder, l.Mode, remaining)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
