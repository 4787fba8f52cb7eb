package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zoobzio/callz"
)

var settingsCmd = &cobra.Command{
	Use:   "settings <file>",
	Short: "Validate a settings file",
	Long: `Load a YAML (.yaml, .yml) or TOML (.toml) settings file, validate it
and print the resolved timeouts and retry configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := callz.LoadSettings(args[0])
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), s)
		return nil
	},
}

func printSettings(w io.Writer, s callz.Settings) {
	fmt.Fprintln(w, "timeouts:")
	fmt.Fprintf(w, "  operation: %s\n", durationOrUnset(s.Timeouts.Operation.String(), s.Timeouts.Operation > 0))
	fmt.Fprintf(w, "  attempt:   %s\n", durationOrUnset(s.Timeouts.Attempt.String(), s.Timeouts.Attempt > 0))
	fmt.Fprintln(w, "retry:")
	fmt.Fprintf(w, "  max attempts: %d\n", s.MaxAttempts)
	fmt.Fprintf(w, "  base delay:   %s\n", durationOrUnset(s.BaseDelay.String(), s.BaseDelay > 0))
	fmt.Fprintf(w, "  honor delay:  %t\n", s.HonorRetryDelay)
}

func durationOrUnset(d string, set bool) string {
	if !set {
		return "unset"
	}
	return d
}
