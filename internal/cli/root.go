package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "exportmerge",
	Short: "Merge exports of several self-hosted instances into one",
	Long: `exportmerge reconciles the fixture-style JSON exports of several
self-hosted instances of the same platform into a single export.

Teams and projects are matched by slug; the first source listed wins every
tie, and a project's options, alert rules and client keys always come from
the same source as the project. Every merged export is verified against its
inputs before it is reported as good, and each run is recorded in a local
ledger so old (source, pk) pairs can be mapped to their merged pks later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./exportmerge.yaml or ~/.config/exportmerge/config.yaml)")
	rootCmd.PersistentFlags().String("ledger", "", "Path to ledger database (overrides EXPORTMERGE_LEDGER_PATH)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format: table, json or yaml")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("porcelain", false, "Stable, machine-readable output")
}
