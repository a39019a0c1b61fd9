package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "telemetry-service",
	Short: "Industrial telemetry simulator with incident alerting",
	Long: `Simulates sensor telemetry for plant machines, scores every reading for
anomalies and escalates maintenance and sabotage incidents over email,
voice, SMS and chat.

Commands:
  run       start the simulation loop, API and consumers
  validate  check a sensor catalog file
  simulate  run ticks offline against an in-memory store`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(runCmd, validateCmd, simulateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
