package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/renwick/coordinator/internal/coord"
	"github.com/renwick/coordinator/internal/taskfile"
)

var planCmd = &cobra.Command{
	Use:   "plan [task-dir]",
	Short: "Validate a directory of task descriptors and list admissible ones",
	Long: `Parses every descriptor in the task directory, rejects the set if its
dependency edges contain a cycle, prints a dependency-respecting admission
order, and marks which tasks could be admitted right now.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		dir := rt.cfg.TaskDir
		if len(args) == 1 {
			dir = args[0]
		}

		parser := taskfile.NewParser()
		descriptors, errs := parser.ParseDir(dir)
		for _, parseErr := range errs {
			fmt.Printf("skipping: %v\n", parseErr)
		}
		if len(descriptors) == 0 {
			fmt.Println("no task descriptors found")
			return nil
		}

		order, err := coord.ValidateSet(descriptors)
		if err != nil {
			return fmt.Errorf("task set invalid: %w", err)
		}

		compatible := rt.coordinator.CompatibleTasks(descriptors)
		admissible := make(map[string]bool, len(compatible))
		for _, taskID := range compatible {
			admissible[taskID] = true
		}

		fmt.Printf("admission order: %s\n\n", strings.Join(order, " -> "))
		for _, taskID := range order {
			marker := " "
			if admissible[taskID] {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, taskID)
		}
		fmt.Println("\n* = parallel-compatible and admissible now")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
