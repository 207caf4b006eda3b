package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lherron/exportmerge/internal/cli/appctx"
	"github.com/lherron/exportmerge/internal/config"
	"github.com/lherron/exportmerge/internal/ledger"
	"github.com/lherron/exportmerge/internal/merge"
	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/lherron/exportmerge/internal/snapshot"
	"github.com/lherron/exportmerge/internal/testutil"
)

func setupApp(t *testing.T) *appctx.App {
	t.Helper()
	database, _ := testutil.TempLedger(t)
	return &appctx.App{
		Config: &config.Config{},
		Logger: slog.New(slog.DiscardHandler),
		Format: render.FormatJSON,
		DB:     database,
		Ledger: ledger.New(database),
	}
}

// writeSources writes a prod and a staging export that share the "api"
// project and the "ops" team.
func writeSources(t *testing.T, dir string) []config.SourceConfig {
	t.Helper()
	prod := testutil.WriteExport(t, dir, "prod.json",
		testutil.Other("sentry.organization", 1, map[string]any{"slug": "acme"}),
		testutil.Team(1, "ops"),
		testutil.Project(1, "api"),
		testutil.Option(1, 1, "mail:subject_prefix", "[api]"),
		testutil.ProjectKey(1, 1, "pub-prod-api"),
	)
	staging := testutil.WriteExport(t, dir, "staging.json",
		testutil.Team(1, "ops"),
		testutil.Team(2, "qa"),
		testutil.Project(1, "api"),
		testutil.Project(2, "web"),
		testutil.Option(1, 1, "mail:subject_prefix", "[stale]"),
		testutil.Rule(4, 2, "errors", `{"match":"all"}`),
		testutil.ProjectKey(7, 2, "pub-staging-web"),
	)
	return []config.SourceConfig{{Name: "prod", Path: prod}, {Name: "staging", Path: staging}}
}

func TestExecuteMerge(t *testing.T) {
	app := setupApp(t)
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	now := time.Date(2022, 8, 17, 15, 47, 59, 0, time.UTC)

	out, err := executeMerge(app, mergeRequest{
		Sources:   writeSources(t, dir),
		OutputDir: outDir,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("executeMerge failed: %v", err)
	}

	if out.Status != ledger.StatusVerified {
		t.Errorf("status = %s, want verified", out.Status)
	}
	if want := filepath.Join(outDir, "08-17-2022.15.47.59_merged_export.json"); out.Output != want {
		t.Errorf("output = %s, want %s", out.Output, want)
	}
	if out.Verify == nil || !out.Verify.OK {
		t.Errorf("expected a passing verification report, got %+v", out.Verify)
	}

	records, _, err := snapshot.Load(out.Output)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if got := len(testutil.FindAll(records, record.ModelProject)); got != 2 {
		t.Errorf("expected 2 projects, got %d", got)
	}
	if got := len(testutil.FindAll(records, "sentry.organization")); got != 1 {
		t.Errorf("base record not passed through, got %d organizations", got)
	}
	api := testutil.FindBySlug(t, records, record.ModelProject, "api")
	options := testutil.ChildrenOf(records, record.ModelProjectOption, api.PK)
	if len(options) != 1 {
		t.Fatalf("expected 1 option on api, got %d", len(options))
	}
	if v, _ := options[0].StringField("value"); v != "[api]" {
		t.Errorf("api option should come from prod, got %q", v)
	}

	run, err := app.Ledger.GetRun(out.RunUUID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != ledger.StatusVerified || run.OutputPath != out.Output || run.OutputRev != out.Rev {
		t.Errorf("ledger run = %+v", run)
	}
	if len(run.Inputs) != 2 || run.BaseSource != "prod" {
		t.Errorf("ledger inputs = %+v base = %s", run.Inputs, run.BaseSource)
	}

	web := testutil.FindBySlug(t, records, record.ModelProject, "web")
	remap, err := app.Ledger.LookupRemap("", record.ModelProject, "staging", 2)
	if err != nil {
		t.Fatalf("LookupRemap failed: %v", err)
	}
	if remap.NewPK != web.PK {
		t.Errorf("remap new pk = %d, merged web pk = %d", remap.NewPK, web.PK)
	}
}

func TestExecuteMergeDryRun(t *testing.T) {
	app := setupApp(t)
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	out, err := executeMerge(app, mergeRequest{
		Sources:   writeSources(t, dir),
		OutputDir: outDir,
		DryRun:    true,
		Now:       time.Now(),
	})
	if err != nil {
		t.Fatalf("executeMerge failed: %v", err)
	}
	if out.Status != ledger.StatusVerified || out.Output != "" || out.RunUUID != "" {
		t.Errorf("unexpected dry-run outcome %+v", out)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Errorf("dry run should not create the output directory: %v", err)
	}
	runs, err := app.Ledger.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("dry run should not record a run, got %d", len(runs))
	}
}

func TestExecuteMergeFailureIsRecorded(t *testing.T) {
	app := setupApp(t)
	dir := t.TempDir()
	dup := testutil.WriteExport(t, dir, "dup.json", testutil.Team(1, "ops"), testutil.Team(2, "ops"))

	out, err := executeMerge(app, mergeRequest{
		Sources:   []config.SourceConfig{{Name: "prod", Path: dup}},
		OutputDir: filepath.Join(dir, "out"),
		Now:       time.Now(),
	})
	if !errors.Is(err, merge.ErrDuplicateNaturalKey) {
		t.Fatalf("expected ErrDuplicateNaturalKey, got %v", err)
	}
	if code := ExitCode(err); code != exitMerge {
		t.Errorf("exit code = %d, want %d", code, exitMerge)
	}
	if out == nil || out.Status != ledger.StatusFailed || out.Error == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	run, err := app.Ledger.GetRun(out.RunUUID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != ledger.StatusFailed || !strings.Contains(run.Error, "duplicate") {
		t.Errorf("ledger run = %+v", run)
	}
}

func TestExecuteMergeMissingSource(t *testing.T) {
	app := setupApp(t)
	_, err := executeMerge(app, mergeRequest{
		Sources: []config.SourceConfig{{Name: "prod", Path: filepath.Join(t.TempDir(), "missing.json")}},
		Now:     time.Now(),
	})
	if err == nil || ExitCode(err) != exitGeneral {
		t.Fatalf("expected general failure, got %v", err)
	}
}

func TestRenderMergeOutcomeJSON(t *testing.T) {
	app := setupApp(t)
	dir := t.TempDir()
	out, err := executeMerge(app, mergeRequest{Sources: writeSources(t, dir), DryRun: true, Now: time.Now()})
	if err != nil {
		t.Fatalf("executeMerge failed: %v", err)
	}

	var buf bytes.Buffer
	if err := renderMergeOutcome(app, &buf, out); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	var decoded struct {
		Status string `json:"status"`
		Merge  struct {
			Counts map[string]merge.Counts `json:"counts"`
		} `json:"merge"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded.Status != "verified" {
		t.Errorf("status = %s", decoded.Status)
	}
	if got := decoded.Merge.Counts[record.ModelTeam].Final; got != 2 {
		t.Errorf("final team count = %d, want 2", got)
	}
}
