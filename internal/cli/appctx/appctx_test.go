package appctx

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lherron/exportmerge/internal/db"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/spf13/cobra"
)

func testCommand(t *testing.T, flags map[string]string) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("ledger", "", "")
	cmd.Flags().StringP("output", "o", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("porcelain", false, "")
	for name, value := range flags {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("failed to set --%s: %v", name, err)
		}
	}
	cmd.SetErr(&bytes.Buffer{})
	return cmd
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	cmd := testCommand(t, map[string]string{"output": "json", "porcelain": "true"})

	app, err := Bootstrap(cmd, Options{})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Config == nil || app.Logger == nil {
		t.Fatal("Config and Logger should be set")
	}
	if app.DB != nil || app.Ledger != nil {
		t.Error("ledger should not be opened when NeedsLedger is false")
	}
	if app.Format != render.FormatJSON || !app.Porcelain {
		t.Errorf("format = %s porcelain = %v", app.Format, app.Porcelain)
	}
}

func TestBootstrap_BadOutputFormat(t *testing.T) {
	cmd := testCommand(t, map[string]string{"output": "xml"})
	if _, err := Bootstrap(cmd, Options{}); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestBootstrap_AutoMigrate(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	cmd := testCommand(t, map[string]string{"ledger": ledgerPath})

	app, err := Bootstrap(cmd, Options{NeedsLedger: true, AutoMigrate: true})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Ledger == nil || app.DB == nil {
		t.Fatal("ledger should be opened")
	}
	if app.DB.Path() != ledgerPath {
		t.Errorf("ledger path = %s, want %s", app.DB.Path(), ledgerPath)
	}
	if err := app.DB.RequiresMigrationError(); err != nil {
		t.Errorf("ledger should be migrated: %v", err)
	}

	app.Close()
	app.Close()
	if app.DB != nil {
		t.Error("DB should be nil after Close")
	}
}

func TestBootstrap_RequiresMigration(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	database, err := db.Open(ledgerPath)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	database.Close()

	cmd := testCommand(t, map[string]string{"ledger": ledgerPath})
	_, err = Bootstrap(cmd, Options{NeedsLedger: true})
	if err == nil {
		t.Fatal("expected migration error")
	}
	if !strings.Contains(err.Error(), "exportmerge migrate") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWithAppClosesLedger(t *testing.T) {
	cmd := testCommand(t, map[string]string{"ledger": filepath.Join(t.TempDir(), "ledger.db")})

	var seen *App
	run := WithApp(Options{NeedsLedger: true, AutoMigrate: true}, func(app *App, cmd *cobra.Command, args []string) error {
		seen = app
		if app.Ledger == nil {
			t.Error("ledger should be available inside the command")
		}
		return nil
	})
	if err := run(cmd, nil); err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if seen == nil || seen.DB != nil {
		t.Error("ledger should be closed after the command returns")
	}
}
