package cmd

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/renwick/coordinator/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of agents, locks, and coordination events",
	Long: `Runs the background reclamation loop and a terminal dashboard showing
active agents, held locks, and the coordination event feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		model := tui.New(rt.coordinator, rt.bus)
		program := tea.NewProgram(model, tea.WithAltScreen())

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := rt.coordinator.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			_, err := program.Run()
			cancel() // dashboard quit stops the reclaim loop
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			program.Quit()
			return nil
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
