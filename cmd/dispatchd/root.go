package main

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dispatchd",
	Short: "dispatchd - Field-services scheduling and availability engine",
	Long: `dispatchd books on-site service visits against agent calendars.
It answers availability queries, optimizes route insertion with travel
estimates, tracks visit lifecycles and raises SLA breaches.`,
	Version: Version,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}
