// Package cmd provides the command-line interface for tempo.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "tempo",
	Short: "Tempo runs an adaptive performance/energy control loop over " +
		"a table of discrete operating states.",
	Long: `Tempo runs an adaptive performance/energy control loop. It ` +
		`observes an application's throughput and power draw, compares ` +
		`them against a performance goal, and steps through a table of ` +
		`operating states to meet the goal at minimum cost.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Optional; env vars keep their values when no .env exists.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
