//go:build !tinygo

// Command rtsim runs the firmware on the simulated board and inspects
// thread tables and bootstrap frames.
package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"ember/internal/buildinfo"
)

var rootCmd = &cobra.Command{
	Use:           "rtsim",
	Short:         "Simulate and inspect the ember kernel",
	Version:       buildinfo.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, frameCmd, checkCmd)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("rtsim: ")
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
