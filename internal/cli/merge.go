package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/lherron/exportmerge/internal/cli/appctx"
	"github.com/lherron/exportmerge/internal/config"
	"github.com/lherron/exportmerge/internal/ledger"
	"github.com/lherron/exportmerge/internal/merge"
	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/lherron/exportmerge/internal/snapshot"
	"github.com/lherron/exportmerge/internal/verify"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the configured exports into one verified export",
	Long: `Merge reads every source export in priority order, reconciles teams and
projects by slug, reassigns dense pks to every reconciled record and writes a
timestamped <MM-DD-YYYY.HH.MM.SS>_merged_export.json to the output directory.

The written file is read back and verified against the sources. If
verification fails the file is renamed to *_merged_export.invalid.json and the
command exits with status 3. Every run is recorded in the ledger.

Use --dry-run to merge and verify in memory without writing anything.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

var (
	mergeSources   []string
	mergeBase      string
	mergeOutputDir string
	mergePrefix    string
	mergeDryRun    bool
	mergeCanonical bool
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringArrayVar(&mergeSources, "source", nil, "Source as name=path, repeatable, highest priority first (overrides config)")
	mergeCmd.Flags().StringVar(&mergeBase, "base", "", "Source whose other records are kept (default: first source)")
	mergeCmd.Flags().StringVar(&mergeOutputDir, "output-dir", "", "Directory for the merged export (overrides config)")
	mergeCmd.Flags().StringVar(&mergePrefix, "prefix", "", "Prefix for the merged export file name")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Merge and verify without writing or recording a run")
	mergeCmd.Flags().BoolVar(&mergeCanonical, "canonical", false, "Write compact output instead of indented")
}

func runMerge(cmd *cobra.Command, args []string) error {
	app, err := appctx.Bootstrap(cmd, appctx.Options{NeedsLedger: !mergeDryRun, AutoMigrate: true})
	if err != nil {
		return exitError(exitGeneral, err)
	}
	defer app.Close()

	sources, err := resolveSources(app.Config, mergeSources)
	if err != nil {
		return err
	}
	cfg := *app.Config
	cfg.Sources = sources
	if mergeBase != "" {
		cfg.Base = mergeBase
	}
	if mergeOutputDir != "" {
		cfg.OutputDir = mergeOutputDir
	}
	if mergePrefix != "" {
		cfg.OutputPrefix = mergePrefix
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitUsage, err)
	}

	outcome, runErr := executeMerge(app, mergeRequest{
		Sources:   cfg.Sources,
		Base:      cfg.Base,
		OutputDir: cfg.OutputDir,
		Prefix:    cfg.OutputPrefix,
		DryRun:    mergeDryRun,
		Canonical: mergeCanonical,
		Now:       time.Now(),
	})
	if outcome != nil {
		if err := renderMergeOutcome(app, cmd.OutOrStdout(), outcome); err != nil {
			return exitError(exitGeneral, err)
		}
	}
	return runErr
}

type mergeRequest struct {
	Sources   []config.SourceConfig
	Base      string
	OutputDir string
	Prefix    string
	DryRun    bool
	Canonical bool
	Now       time.Time
}

type mergeOutcome struct {
	RunUUID     string              `json:"run_uuid,omitempty" yaml:"run_uuid,omitempty"`
	Status      ledger.Status       `json:"status" yaml:"status"`
	DryRun      bool                `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Output      string              `json:"output,omitempty" yaml:"output,omitempty"`
	Rev         string              `json:"rev,omitempty" yaml:"rev,omitempty"`
	Inputs      []ledger.Input      `json:"inputs" yaml:"inputs"`
	Merge       *merge.Result       `json:"merge,omitempty" yaml:"merge,omitempty"`
	Verify      *verify.Report      `json:"verify,omitempty" yaml:"verify,omitempty"`
	Discrepancy *verify.Discrepancy `json:"discrepancy,omitempty" yaml:"discrepancy,omitempty"`
	Error       string              `json:"error,omitempty" yaml:"error,omitempty"`
}

// executeMerge runs one merge end to end. The outcome is returned even on
// failure so the caller can report how far the run got.
func executeMerge(app *appctx.App, req mergeRequest) (*mergeOutcome, error) {
	logger := app.Logger
	if len(req.Sources) == 0 {
		return nil, exitError(exitUsage, errors.New("no sources to merge"))
	}

	loaded, err := loadSources(req.Sources, logger)
	if err != nil {
		return nil, exitError(exitGeneral, err)
	}
	out := &mergeOutcome{Inputs: loaded.Inputs, DryRun: req.DryRun, Status: ledger.StatusRunning}

	base := req.Base
	if base == "" {
		base = req.Sources[0].Name
	}

	recorder := app.Ledger
	if req.DryRun {
		recorder = nil
	}
	if recorder != nil {
		out.RunUUID, err = recorder.BeginRun(base, loaded.Inputs)
		if err != nil {
			return nil, exitError(exitGeneral, err)
		}
		logger.Info("run started", "run", out.RunUUID)
	}

	finish := func(status ledger.Status, code int, runErr error) error {
		out.Status = status
		if runErr != nil {
			out.Error = runErr.Error()
		}
		if recorder != nil {
			if err := recorder.FinishRun(out.RunUUID, status, runErr); err != nil {
				logger.Error("failed to record run status", "run", out.RunUUID, "error", err)
			}
		}
		if runErr == nil {
			return nil
		}
		return exitError(code, runErr)
	}

	result, err := merge.Run(merge.Options{Sources: loaded.Stores, Base: base, Logger: logger})
	if err != nil {
		return out, finish(ledger.StatusFailed, exitMerge, err)
	}
	out.Merge = result
	out.Status = ledger.StatusMerged

	if recorder != nil {
		if err := recorder.RecordResult(out.RunUUID, result); err != nil {
			return out, finish(ledger.StatusFailed, exitGeneral, err)
		}
	}

	compare := verify.Options{CompareFields: app.Config.CompareFields, Logger: logger}

	if req.DryRun {
		report, err := verify.Verify(loaded.Stores, record.NewStore("merged", result.Records), compare)
		out.Verify = report
		if err != nil {
			errors.As(err, &out.Discrepancy)
			return out, finish(ledger.StatusInvalid, exitDiscrepancy, err)
		}
		return out, finish(ledger.StatusVerified, 0, nil)
	}

	path := snapshot.MergedPath(req.OutputDir, req.Prefix, req.Now)
	written, err := snapshot.WriteFile(path, result.Records, snapshot.Options{Canonical: req.Canonical})
	if err != nil {
		return out, finish(ledger.StatusFailed, exitGeneral, err)
	}
	out.Output, out.Rev = written.Path, written.Rev
	logger.Info("wrote merged export", "path", written.Path, "records", written.Records, "rev", written.Rev)
	if recorder != nil {
		if err := recorder.SetOutput(out.RunUUID, written.Path, written.Rev); err != nil {
			return out, finish(ledger.StatusFailed, exitGeneral, err)
		}
	}

	// Verify what was actually written, not the in-memory result.
	merged, _, err := snapshot.LoadStore("merged", written.Path)
	if err != nil {
		return out, finish(ledger.StatusFailed, exitGeneral, fmt.Errorf("failed to read back merged export: %w", err))
	}
	report, err := verify.Verify(loaded.Stores, merged, compare)
	out.Verify = report
	if err != nil {
		errors.As(err, &out.Discrepancy)
		invalid, markErr := snapshot.MarkInvalid(written.Path)
		if markErr != nil {
			logger.Error("failed to mark output invalid", "path", written.Path, "error", markErr)
		} else {
			out.Output = invalid
			if recorder != nil {
				if err := recorder.SetOutput(out.RunUUID, invalid, written.Rev); err != nil {
					logger.Error("failed to record invalid output", "run", out.RunUUID, "error", err)
				}
			}
		}
		logger.Error("merged export failed verification", "path", out.Output, "error", err)
		return out, finish(ledger.StatusInvalid, exitDiscrepancy, err)
	}

	return out, finish(ledger.StatusVerified, 0, nil)
}

func renderMergeOutcome(app *appctx.App, w io.Writer, out *mergeOutcome) error {
	if app.Format == render.FormatTable && !app.Porcelain {
		if out.RunUUID != "" {
			fmt.Fprintf(w, "run:    %s\n", out.RunUUID)
		}
		fmt.Fprintf(w, "status: %s\n", out.Status)
		if out.Output != "" {
			fmt.Fprintf(w, "output: %s (%s)\n", out.Output, out.Rev)
		}
		if out.Error != "" {
			fmt.Fprintf(w, "error:  %s\n", out.Error)
		}
		if out.Discrepancy != nil && out.Discrepancy.Diff != "" {
			fmt.Fprintf(w, "\n%s\n", out.Discrepancy.Diff)
		}
		if out.Merge != nil {
			fmt.Fprintln(w)
		}
	}

	return app.Renderer(w).RenderAs(out, render.TableFunc(func() ([]string, [][]string) {
		if out.Merge == nil {
			return nil, nil
		}
		headers := []string{"MODEL", "BEFORE", "AFTER_REMOVAL", "FINAL"}
		var rows [][]string
		for _, model := range record.ReconciledModels {
			c := out.Merge.Counts[model]
			rows = append(rows, []string{model, strconv.Itoa(c.Before), strconv.Itoa(c.AfterRemoval), strconv.Itoa(c.Final)})
		}
		return headers, rows
	}))
}
