package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lherron/exportmerge/internal/cli/appctx"
	"github.com/lherron/exportmerge/internal/ledger"
	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <source> <model> <pk>",
	Short: "Find the merged pk of a source record",
	Long: `Lookup maps a (source, pk) pair to the pk it was given in a merged export.
<model> is a full model name (sentry.project) or its short form (project).

By default the most recent verified run is used; pass --run to pick another.`,
	Example: `  exportmerge lookup legacy project 42
  exportmerge lookup prod sentry.team 7 --run 3f2a`,
	Args: cobra.ExactArgs(3),
	RunE: appctx.WithApp(appctx.Options{NeedsLedger: true}, runLookup),
}

var lookupRun string

func init() {
	rootCmd.AddCommand(lookupCmd)

	lookupCmd.Flags().StringVar(&lookupRun, "run", "", "Run UUID or prefix (default: latest verified run)")
}

func runLookup(app *appctx.App, cmd *cobra.Command, args []string) error {
	source := args[0]
	model, err := parseModel(args[1])
	if err != nil {
		return exitError(exitUsage, err)
	}
	oldPK, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return exitError(exitUsage, fmt.Errorf("invalid pk %q: %w", args[2], err))
	}

	remap, err := app.Ledger.LookupRemap(lookupRun, model, source, oldPK)
	if err != nil {
		if errors.Is(err, ledger.ErrRemapNotFound) || errors.Is(err, ledger.ErrRunNotFound) {
			return exitError(exitUsage, err)
		}
		return exitError(exitGeneral, err)
	}

	return app.Renderer(cmd.OutOrStdout()).RenderAs(remap, render.TableFunc(func() ([]string, [][]string) {
		return []string{"RUN", "MODEL", "SOURCE", "OLD_PK", "NEW_PK", "SLUG"}, [][]string{{
			shortUUID(remap.RunUUID),
			remap.Model,
			remap.Source,
			strconv.FormatInt(remap.OldPK, 10),
			strconv.FormatInt(remap.NewPK, 10),
			remap.NaturalKey,
		}}
	}))
}

// parseModel accepts a reconciled model name with or without its app prefix.
func parseModel(s string) (string, error) {
	for _, model := range record.ReconciledModels {
		if s == model || "sentry."+s == model {
			return model, nil
		}
	}
	return "", fmt.Errorf("unknown model %q (want one of %v)", s, record.ReconciledModels)
}
