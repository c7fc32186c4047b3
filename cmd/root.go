// Package cmd defines and implements the CLI commands for the hybridfetch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hybridfetch",
		Short: "A hybrid HTTP/browser batch URL fetcher.",
		Long: `hybridfetch fetches batches of URLs, trying a fast plain-HTTP pass first
and escalating individual pages to a headless browser only when the cheap
path fails in a way a browser could fix. Per-URL outcomes land in a JSONL
stats log, with an aggregate summary written at the end of the run.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (built-in defaults apply without one)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newShardCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
