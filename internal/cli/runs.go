package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lherron/exportmerge/internal/cli/appctx"
	"github.com/lherron/exportmerge/internal/ledger"
	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded merge runs",
}

var runsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List merge runs, newest first",
	Args:    cobra.NoArgs,
	RunE:    appctx.WithApp(appctx.Options{NeedsLedger: true}, runRunsList),
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run>",
	Short: "Show a run's inputs, counts and warnings",
	Long:  `Show prints one run. <run> is a full run UUID or any unique prefix of one.`,
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.Options{NeedsLedger: true}, runRunsShow),
}

var runsLimit int

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd)

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list (0 for all)")
}

func runRunsList(app *appctx.App, cmd *cobra.Command, args []string) error {
	runs, err := app.Ledger.ListRuns(runsLimit)
	if err != nil {
		return exitError(exitGeneral, err)
	}
	if runs == nil {
		runs = []ledger.Run{}
	}

	return app.Renderer(cmd.OutOrStdout()).RenderAs(runs, render.TableFunc(func() ([]string, [][]string) {
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				shortUUID(r.UUID),
				string(r.Status),
				r.StartedAt,
				strings.Join(r.Sources, ","),
				strconv.Itoa(r.RecordCount),
				r.OutputPath,
			})
		}
		return []string{"RUN", "STATUS", "STARTED", "SOURCES", "RECORDS", "OUTPUT"}, rows
	}))
}

func runRunsShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	run, err := app.Ledger.GetRun(args[0])
	if err != nil {
		if errors.Is(err, ledger.ErrRunNotFound) || errors.Is(err, ledger.ErrAmbiguousRun) {
			return exitError(exitUsage, err)
		}
		return exitError(exitGeneral, err)
	}

	w := cmd.OutOrStdout()
	if app.Format == render.FormatTable && !app.Porcelain {
		fmt.Fprintf(w, "run:      %s\n", run.UUID)
		fmt.Fprintf(w, "status:   %s\n", run.Status)
		fmt.Fprintf(w, "base:     %s\n", run.BaseSource)
		fmt.Fprintf(w, "started:  %s\n", run.StartedAt)
		if run.FinishedAt != "" {
			fmt.Fprintf(w, "finished: %s\n", run.FinishedAt)
		}
		if run.OutputPath != "" {
			fmt.Fprintf(w, "output:   %s (%s)\n", run.OutputPath, run.OutputRev)
		}
		if run.Error != "" {
			fmt.Fprintf(w, "error:    %s\n", run.Error)
		}
		for _, in := range run.Inputs {
			fmt.Fprintf(w, "input:    %s %s %s (%d records)\n", in.Source, in.Path, in.Rev, in.Records)
		}
		for _, warning := range run.Warnings {
			fmt.Fprintf(w, "warning:  %s %s %s\n", warning.Kind, warning.Model, warning.Detail)
		}
		fmt.Fprintln(w)
	}

	return app.Renderer(w).RenderAs(run, render.TableFunc(func() ([]string, [][]string) {
		rows := make([][]string, 0, len(record.ReconciledModels))
		for _, model := range record.ReconciledModels {
			c, ok := run.Counts[model]
			if !ok {
				continue
			}
			rows = append(rows, []string{model, strconv.Itoa(c.Before), strconv.Itoa(c.AfterRemoval), strconv.Itoa(c.Final)})
		}
		return []string{"MODEL", "BEFORE", "AFTER_REMOVAL", "FINAL"}, rows
	}))
}

func shortUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}
