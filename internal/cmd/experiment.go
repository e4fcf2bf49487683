package cmd

import (
	"github.com/spf13/cobra"
)

var experimentCmd = &cobra.Command{
	Use:     "experiment",
	Aliases: []string{"exp"},
	Short:   "Manage experiments from the command line",
	Long: `Create, run, and inspect scenario-fuzzing experiments without the
HTTP server.

Subcommands operate directly on the experiment database configured in
scenfuzz.yaml (or SCENFUZZ_DB_PATH).`,
}

func init() {
	rootCmd.AddCommand(experimentCmd)
}
