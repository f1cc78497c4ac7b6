package cmd

import (
	"github.com/spf13/cobra"
	"switchboard/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "switchboard - a reverse request broker",
	Long: `switchboard accepts inbound HTTP requests on short URL slugs and
dispatches each one to a remote handler connected over a persistent
control channel, then relays the handler's reply back to the caller.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logger.LevelDebug)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(monitorCmd)
}
