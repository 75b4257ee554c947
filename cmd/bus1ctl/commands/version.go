package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// bus1Version is bumped by hand; there is no build-stamped version
// source in this module yet.
const bus1Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(bus1Version)
	},
}
