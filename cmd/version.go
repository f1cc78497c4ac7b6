package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "unreleased"

var versionVerbose bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Report the build version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
		if versionVerbose {
			fmt.Printf("built with %s\n", runtime.Version())
		}
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionVerbose, "verbose", false, "show the Go version the binary was built with")
}
