package main

import (
	"fmt"
	"os"

	"github.com/busd/bus1/cmd/bus1ctl/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
