// Package commands implements bus1ctl's cobra command tree: a manual
// exercising tool for the control surface in spec §6, driving a single
// in-process domain per invocation (there is no persisted state or
// transport to attach to across invocations, per spec §1's non-goals).
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/busd/bus1/config"
	"github.com/busd/bus1/libs/log"
)

var logger = log.NewTMLogger(log.NewSyncWriter(os.Stdout))

// RootCmd is bus1ctl's entry point.
var RootCmd = &cobra.Command{
	Use:   "bus1ctl",
	Short: "Exercise the bus1 peer control plane against an in-process domain",
}

func init() {
	RootCmd.AddCommand(connectCmd)
	RootCmd.AddCommand(resolveCmd)
	RootCmd.AddCommand(sendRecvCmd)
	RootCmd.AddCommand(versionCmd)
}

var cfg = config.Default()
