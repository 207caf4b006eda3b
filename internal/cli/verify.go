package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lherron/exportmerge/internal/cli/appctx"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/lherron/exportmerge/internal/snapshot"
	"github.com/lherron/exportmerge/internal/verify"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <merged-export>",
	Short: "Check a merged export against its source exports",
	Long: `Verify re-derives the expected merge from the source exports and checks
that every team and project appears exactly once in the merged export, that
every option, alert rule and client key of a project's winning source is
present under the merged project, and that every merged child points at a
merged project.

Verification stops at the first discrepancy and exits with status 3.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.Options{}, runVerify),
}

var verifySources []string

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringArrayVar(&verifySources, "source", nil, "Source as name=path, repeatable, highest priority first (overrides config)")
}

type verifyOutcome struct {
	Merged      *snapshot.LoadResult `json:"merged" yaml:"merged"`
	Report      *verify.Report       `json:"report" yaml:"report"`
	Discrepancy *verify.Discrepancy  `json:"discrepancy,omitempty" yaml:"discrepancy,omitempty"`
}

func runVerify(app *appctx.App, cmd *cobra.Command, args []string) error {
	cfg := *app.Config
	sources, err := resolveSources(app.Config, verifySources)
	if err != nil {
		return err
	}
	cfg.Sources = sources
	cfg.Base = ""
	if err := cfg.Validate(); err != nil {
		return exitError(exitUsage, err)
	}

	loaded, err := loadSources(cfg.Sources, app.Logger)
	if err != nil {
		return exitError(exitGeneral, err)
	}
	merged, mergedInfo, err := snapshot.LoadStore("merged", args[0])
	if err != nil {
		return exitError(exitGeneral, err)
	}

	report, verr := verify.Verify(loaded.Stores, merged, verify.Options{
		CompareFields: cfg.CompareFields,
		Logger:        app.Logger,
	})
	out := &verifyOutcome{Merged: mergedInfo, Report: report}
	errors.As(verr, &out.Discrepancy)

	w := cmd.OutOrStdout()
	if err := app.Renderer(w).RenderAs(out, render.TableFunc(func() ([]string, [][]string) {
		return reportTable(report)
	})); err != nil {
		return exitError(exitGeneral, err)
	}
	if verr != nil {
		if out.Discrepancy != nil && out.Discrepancy.Diff != "" && app.Format == render.FormatTable {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", out.Discrepancy.Diff)
		}
		return exitError(exitDiscrepancy, verr)
	}
	if app.Format == render.FormatTable && !app.Porcelain {
		fmt.Fprintf(w, "\n%s matches %d source(s)\n", args[0], len(loaded.Stores))
	}
	return nil
}

func reportTable(report *verify.Report) ([]string, [][]string) {
	headers := []string{"MODEL", "TOTAL", "MULTI", "CHECKED", "MERGED"}
	var rows [][]string
	for _, m := range report.Models {
		rows = append(rows, []string{
			m.Model,
			strconv.Itoa(m.Total),
			strconv.Itoa(m.Multi),
			strconv.Itoa(m.Checked),
			strconv.Itoa(m.Merged),
		})
	}
	return headers, rows
}
