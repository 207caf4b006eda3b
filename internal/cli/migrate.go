package cli

import (
	"fmt"
	"io"

	"github.com/lherron/exportmerge/internal/config"
	"github.com/lherron/exportmerge/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run any pending ledger migrations",
	Long: `Migrate applies any pending SQL migrations to the ledger database.

Migrations are embedded in the binary and tracked via the schema_migrations
table. Each migration file (e.g., 000001_baseline.sql) is applied exactly once.
The merge command migrates the ledger itself; the read-only commands (runs,
lookup) refuse to run against an outdated ledger.

Use --dry-run to see which migrations would be applied without running them.
Use --status to show the current migration status.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

var (
	migrateDryRun bool
	migrateStatus bool
)

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Show which migrations would be applied without running them")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Show current migration status")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: cmd.Flag("config").Value.String()})
	if err != nil {
		return exitError(exitGeneral, fmt.Errorf("failed to load config: %w", err))
	}
	if v := cmd.Flag("ledger").Value.String(); v != "" {
		cfg.LedgerPath = v
	}

	database, err := db.Open(cfg.LedgerPath)
	if err != nil {
		return exitError(exitGeneral, fmt.Errorf("failed to open ledger: %w", err))
	}
	defer database.Close()

	w := cmd.OutOrStdout()
	if migrateStatus {
		return showMigrationStatus(w, database)
	}
	if migrateDryRun {
		return showPendingMigrations(w, database)
	}

	applied, err := database.MigrateWithInfo()
	if err != nil {
		return exitError(exitGeneral, fmt.Errorf("failed to run migrations: %w", err))
	}

	if len(applied) == 0 {
		fmt.Fprintf(w, "Ledger %s is up to date. No migrations to apply.\n", database.Path())
		return nil
	}
	for _, m := range applied {
		fmt.Fprintf(w, "✓ Applied migration: %s\n", m)
	}
	fmt.Fprintf(w, "\nApplied %d migration(s) to %s.\n", len(applied), database.Path())
	return nil
}

func showMigrationStatus(w io.Writer, database *db.DB) error {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(exitGeneral, fmt.Errorf("failed to get migration status: %w", err))
	}

	if len(applied) > 0 {
		fmt.Fprintln(w, "Applied migrations:")
		for _, m := range applied {
			fmt.Fprintf(w, "  ✓ %s\n", m)
		}
	}
	if len(pending) > 0 {
		if len(applied) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "Pending migrations:")
		for _, m := range pending {
			fmt.Fprintf(w, "  ○ %s\n", m)
		}
	}
	return nil
}

func showPendingMigrations(w io.Writer, database *db.DB) error {
	_, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(exitGeneral, fmt.Errorf("failed to get migration status: %w", err))
	}

	if len(pending) == 0 {
		fmt.Fprintln(w, "No pending migrations. Ledger is up to date.")
		return nil
	}

	fmt.Fprintln(w, "Pending migrations (would be applied):")
	for _, m := range pending {
		fmt.Fprintf(w, "  ○ %s\n", m)
	}
	fmt.Fprintf(w, "\nTotal: %d migration(s) would be applied.\n", len(pending))
	return nil
}
