package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/renwick/coordinator/internal/coord"
)

var (
	registerAgentID string
	registerMode    string
	registerHold    bool
)

var registerCmd = &cobra.Command{
	Use:   "register <task-file>",
	Short: "Admit an agent for a task, acquiring locks on its write targets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		agentID := registerAgentID
		if agentID == "" {
			agentID = "agent-" + uuid.NewString()[:8]
		}

		admission, err := rt.coordinator.AdmitAndRegister(ctx, agentID, registerMode, args[0])
		if err != nil {
			return err
		}
		if !admission.Admitted {
			fmt.Printf("REJECTED %s\n", agentID)
			for _, reason := range admission.Reasons {
				fmt.Printf("  - %s\n", reason)
			}
			return nil
		}

		fmt.Printf("ADMITTED %s task=%s\n", agentID, admission.TaskID)
		for _, resource := range admission.Locked {
			fmt.Printf("  locked %s\n", resource)
		}
		if _, err := rt.coordinator.UpdateStatus(ctx, agentID, coord.AgentRunning); err != nil {
			return err
		}

		if registerHold {
			fmt.Println("holding registration; Ctrl-C to stop heartbeating")
			if err := rt.coordinator.KeepAlive(ctx, agentID, rt.cfg.HeartbeatInterval()); err != nil && ctx.Err() == nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerAgentID, "agent", "", "agent identifier (generated if empty)")
	registerCmd.Flags().StringVar(&registerMode, "mode", "unknown", "agent mode")
	registerCmd.Flags().BoolVar(&registerHold, "hold", false, "stay running and refresh the heartbeat until interrupted")

	rootCmd.AddCommand(registerCmd)
}
