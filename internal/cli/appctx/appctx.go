// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger setup and ledger opening to reduce
// boilerplate across commands.
package appctx

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/lherron/exportmerge/internal/config"
	"github.com/lherron/exportmerge/internal/db"
	"github.com/lherron/exportmerge/internal/ledger"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/spf13/cobra"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration
	Config *config.Config

	// Logger writes progress to stderr at the configured level.
	Logger *slog.Logger

	// Format is the validated output format.
	Format    render.Format
	Porcelain bool

	// DB is the opened ledger database (nil if NeedsLedger is false)
	DB *db.DB

	// Ledger records runs in DB (nil if NeedsLedger is false)
	Ledger *ledger.Ledger
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
		a.Ledger = nil
	}
}

// Renderer returns a renderer for the configured output format.
func (a *App) Renderer(w io.Writer) *render.Renderer {
	return render.NewRenderer(w, render.Options{Format: a.Format, Porcelain: a.Porcelain})
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsLedger indicates whether to open the ledger database.
	NeedsLedger bool

	// AutoMigrate applies pending migrations instead of refusing to run.
	AutoMigrate bool
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The ledger is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	app := &App{}

	cfg, err := config.Load(config.LoadOptions{ConfigPath: flagValue(cmd, "config")})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	// Flags override config
	if v := flagValue(cmd, "ledger"); v != "" {
		cfg.LedgerPath = v
	}
	if v := flagValue(cmd, "output"); v != "" {
		cfg.Output = v
	}
	if v := flagValue(cmd, "log-level"); v != "" {
		cfg.LogLevel = v
	}
	app.Porcelain = flagValue(cmd, "porcelain") == "true"

	app.Format, err = render.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	app.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if opts.NeedsLedger {
		database, err := db.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}

		if opts.AutoMigrate {
			applied, err := database.MigrateWithInfo()
			if err != nil {
				database.Close()
				return nil, fmt.Errorf("failed to migrate ledger: %w", err)
			}
			for _, m := range applied {
				app.Logger.Info("applied ledger migration", "migration", m)
			}
		} else if err := database.RequiresMigrationError(); err != nil {
			database.Close()
			return nil, err
		}

		app.DB = database
		app.Ledger = ledger.New(database)
	}

	return app, nil
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}
