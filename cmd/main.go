package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "callz",
		Short: "Inspect client settings and simulate invocations",
		Long: `callz is a CLI tool for exploring the callz invocation orchestrator.

Validate settings files before shipping them with a client, and run
simulated invocations against a flaky in-process service to see how
timeouts, retries and circuit breaking play out.`,
		Version: version,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(simulateCmd)
}
