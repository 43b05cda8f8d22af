package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

// Global flags.
var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Coordination for parallel agents working a shared file tree",
	Long: `coordinator arbitrates which agent tasks may run concurrently.
Agents declare the files they will modify and the tasks they depend on;
admission grants write locks atomically or reports every blocking reason.
Expired locks and stale agents are reclaimed in the background.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coordinator %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: .coordinator/config.json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to state database (overrides config)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
