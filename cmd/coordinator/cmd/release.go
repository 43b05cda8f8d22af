package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/renwick/coordinator/internal/coord"
)

var (
	releaseForce    bool
	releaseComplete bool
)

var releaseCmd = &cobra.Command{
	Use:   "release <agent-id>",
	Short: "Release an agent's locks and unregister it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		agentID := args[0]

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		agent, registered := rt.agent(ctx, agentID)
		if registered && !releaseForce {
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Release agent %s (task %s, %d locks)?",
						agentID, agent.CurrentTask, len(agent.LockedResources))).
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("aborted")
				return nil
			}
		}

		if releaseComplete && registered {
			if err := rt.coordinator.MarkTaskComplete(ctx, agent.CurrentTask); err != nil {
				return err
			}
		}
		if err := rt.coordinator.Release(ctx, agentID); err != nil {
			return err
		}
		fmt.Printf("released %s\n", agentID)
		return nil
	},
}

// agent looks up an agent in the current status snapshot.
func (rt *runtime) agent(ctx context.Context, agentID string) (coord.Agent, bool) {
	report, err := rt.coordinator.Status(ctx)
	if err != nil {
		return coord.Agent{}, false
	}
	for _, a := range report.Agents {
		if a.ID == agentID {
			return a, true
		}
	}
	return coord.Agent{}, false
}

func init() {
	releaseCmd.Flags().BoolVar(&releaseForce, "force", false, "skip confirmation")
	releaseCmd.Flags().BoolVar(&releaseComplete, "complete", false, "mark the agent's task complete before releasing")

	rootCmd.AddCommand(releaseCmd)
}
