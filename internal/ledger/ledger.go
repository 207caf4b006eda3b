// Package ledger records merge runs in a SQLite database: which exports went
// in, what came out, and how every reconciled record's pk was reassigned.
// After the source instances are decommissioned the ledger is the only way to
// map an old (source, pk) pair to its merged pk.
package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lherron/exportmerge/internal/db"
	"github.com/lherron/exportmerge/internal/merge"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusMerged   Status = "merged"
	StatusVerified Status = "verified"
	StatusInvalid  Status = "invalid"
	StatusFailed   Status = "failed"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrAmbiguousRun  = errors.New("run prefix matches more than one run")
	ErrRemapNotFound = errors.New("no pk remap recorded")
)

// Input is one export file read by a run.
type Input struct {
	Source  string `json:"source" yaml:"source"`
	Path    string `json:"path" yaml:"path"`
	Rev     string `json:"rev" yaml:"rev"`
	Records int    `json:"records" yaml:"records"`
}

// Warning is a non-fatal finding of a run.
type Warning struct {
	Kind   string `json:"kind" yaml:"kind"`
	Model  string `json:"model" yaml:"model"`
	Detail string `json:"detail" yaml:"detail"`
}

// Run is a recorded merge run.
type Run struct {
	UUID        string                  `json:"uuid" yaml:"uuid"`
	Status      Status                  `json:"status" yaml:"status"`
	BaseSource  string                  `json:"base_source" yaml:"base_source"`
	Sources     []string                `json:"sources" yaml:"sources"`
	OutputPath  string                  `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	OutputRev   string                  `json:"output_rev,omitempty" yaml:"output_rev,omitempty"`
	RecordCount int                     `json:"record_count" yaml:"record_count"`
	Error       string                  `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   string                  `json:"started_at" yaml:"started_at"`
	FinishedAt  string                  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Inputs      []Input                 `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Counts      map[string]merge.Counts `json:"counts,omitempty" yaml:"counts,omitempty"`
	Warnings    []Warning               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Remap is a recorded pk reassignment.
type Remap struct {
	RunUUID    string `json:"run_uuid" yaml:"run_uuid"`
	Model      string `json:"model" yaml:"model"`
	Source     string `json:"source" yaml:"source"`
	OldPK      int64  `json:"old_pk" yaml:"old_pk"`
	NewPK      int64  `json:"new_pk" yaml:"new_pk"`
	NaturalKey string `json:"natural_key,omitempty" yaml:"natural_key,omitempty"`
}

// Ledger reads and writes run records.
type Ledger struct {
	db  *db.DB
	now func() time.Time
}

// New creates a ledger over an opened, migrated database.
func New(database *db.DB) *Ledger {
	return &Ledger{db: database, now: time.Now}
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format("2006-01-02T15:04:05Z")
}

// BeginRun records a new run in the running state and returns its UUID.
func (l *Ledger) BeginRun(base string, inputs []Input) (string, error) {
	runUUID := uuid.New().String()

	sources := make([]string, len(inputs))
	for i, in := range inputs {
		sources[i] = in.Source
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return "", fmt.Errorf("failed to encode sources: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (uuid, status, base_source, sources, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, runUUID, StatusRunning, base, string(sourcesJSON), l.timestamp())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for i, in := range inputs {
		_, err := tx.Exec(`
			INSERT INTO run_inputs (run_uuid, position, source, path, rev, record_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runUUID, i, in.Source, in.Path, in.Rev, in.Records)
		if err != nil {
			return "", fmt.Errorf("failed to insert input %s: %w", in.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return runUUID, nil
}

// RecordResult stores counts, remaps and warnings of a successful merge.
func (l *Ledger) RecordResult(runUUID string, result *merge.Result) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for model, c := range result.Counts {
		_, err := tx.Exec(`
			INSERT INTO run_counts (run_uuid, model, before_count, after_removal_count, final_count)
			VALUES (?, ?, ?, ?, ?)
		`, runUUID, model, c.Before, c.AfterRemoval, c.Final)
		if err != nil {
			return fmt.Errorf("failed to insert counts for %s: %w", model, err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO pk_remaps (run_uuid, model, source, old_pk, new_pk, natural_key)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare remap insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range result.Remaps {
		if _, err := stmt.Exec(runUUID, r.Model, r.From.Source, r.From.PK, r.To, r.NaturalKey); err != nil {
			return fmt.Errorf("failed to insert remap %s %s: %w", r.Model, r.From, err)
		}
	}

	for _, c := range result.Collisions {
		if err := insertWarning(tx, runUUID, "slug_collision", c.Model, strings.Join(c.Slugs, ", ")); err != nil {
			return err
		}
	}
	for _, o := range result.Orphans {
		if err := insertWarning(tx, runUUID, "orphan", o.Model, o.Key.String()); err != nil {
			return err
		}
	}

	if _, err := tx.Exec("UPDATE runs SET record_count = ? WHERE uuid = ?", len(result.Records), runUUID); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

func insertWarning(tx *sql.Tx, runUUID, kind, model, detail string) error {
	_, err := tx.Exec(`
		INSERT INTO run_warnings (run_uuid, kind, model, detail) VALUES (?, ?, ?, ?)
	`, runUUID, kind, model, detail)
	if err != nil {
		return fmt.Errorf("failed to insert %s warning: %w", kind, err)
	}
	return nil
}

// SetOutput records where a run's merged export was written.
func (l *Ledger) SetOutput(runUUID, path, rev string) error {
	res, err := l.db.Exec("UPDATE runs SET output_path = ?, output_rev = ? WHERE uuid = ?", path, rev, runUUID)
	if err != nil {
		return fmt.Errorf("failed to record output: %w", err)
	}
	return requireOneRow(res, runUUID)
}

// FinishRun moves a run to its final status. runErr, if any, is stored.
func (l *Ledger) FinishRun(runUUID string, status Status, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := l.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE uuid = ?
	`, status, errText, l.timestamp(), runUUID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return requireOneRow(res, runUUID)
}

func requireOneRow(res sql.Result, runUUID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runUUID)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (l *Ledger) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT uuid, status, base_source, sources, COALESCE(output_path, ''), COALESCE(output_rev, ''),
		       record_count, COALESCE(error, ''), started_at, COALESCE(finished_at, '')
		FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var sources string
	if err := row.Scan(&run.UUID, &run.Status, &run.BaseSource, &sources, &run.OutputPath, &run.OutputRev,
		&run.RecordCount, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &run.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources of run %s: %w", run.UUID, err)
	}
	return &run, nil
}

// GetRun loads a run with its inputs, counts and warnings. ref may be a full
// UUID or a unique prefix.
func (l *Ledger) GetRun(ref string) (*Run, error) {
	runUUID, err := l.resolveRun(ref)
	if err != nil {
		return nil, err
	}

	run, err := scanRun(l.db.QueryRow(`
		SELECT uuid, status, base_source, sources, COALESCE(output_path, ''), COALESCE(output_rev, ''),
		       record_count, COALESCE(error, ''), started_at, COALESCE(finished_at, '')
		FROM runs WHERE uuid = ?`, runUUID))
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runUUID, err)
	}

	if err := l.loadInputs(run); err != nil {
		return nil, err
	}
	if err := l.loadCounts(run); err != nil {
		return nil, err
	}
	if err := l.loadWarnings(run); err != nil {
		return nil, err
	}
	return run, nil
}

// resolveRun matches ref as a literal uuid prefix.
func (l *Ledger) resolveRun(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty run reference", ErrRunNotFound)
	}
	rows, err := l.db.Query("SELECT uuid FROM runs WHERE substr(uuid, 1, ?) = ? LIMIT 2", len(ref), ref)
	if err != nil {
		return "", fmt.Errorf("failed to look up run: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return "", fmt.Errorf("failed to scan run: %w", err)
		}
		matches = append(matches, u)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating runs: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRun, ref)
	}
}

func (l *Ledger) loadInputs(run *Run) error {
	rows, err := l.db.Query(`
		SELECT source, path, rev, record_count FROM run_inputs WHERE run_uuid = ? ORDER BY position
	`, run.UUID)
	if err != nil {
		return fmt.Errorf("failed to query inputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in Input
		if err := rows.Scan(&in.Source, &in.Path, &in.Rev, &in.Records); err != nil {
			return fmt.Errorf("failed to scan input: %w", err)
		}
		run.Inputs = append(run.Inputs, in)
	}
	return rows.Err()
}

func (l *Ledger) loadCounts(run *Run) error {
	rows, err := l.db.Query(`
		SELECT model, before_count, after_removal_count, final_count FROM run_counts WHERE run_uuid = ?
	`, run.UUID)
	if err != nil {
		return fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var c merge.Counts
		if err := rows.Scan(&model, &c.Before, &c.AfterRemoval, &c.Final); err != nil {
			return fmt.Errorf("failed to scan counts: %w", err)
		}
		if run.Counts == nil {
			run.Counts = make(map[string]merge.Counts)
		}
		run.Counts[model] = c
	}
	return rows.Err()
}

func (l *Ledger) loadWarnings(run *Run) error {
	rows, err := l.db.Query(`
		SELECT kind, model, detail FROM run_warnings WHERE run_uuid = ? ORDER BY id
	`, run.UUID)
	if err != nil {
		return fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w Warning
		if err := rows.Scan(&w.Kind, &w.Model, &w.Detail); err != nil {
			return fmt.Errorf("failed to scan warning: %w", err)
		}
		run.Warnings = append(run.Warnings, w)
	}
	return rows.Err()
}

// LookupRemap finds the merged pk of (source, model, oldPK). With an empty
// runRef the most recent verified run is used.
func (l *Ledger) LookupRemap(runRef, model, source string, oldPK int64) (*Remap, error) {
	var runUUID string
	if runRef == "" {
		err := l.db.QueryRow(`
			SELECT uuid FROM runs WHERE status = ? ORDER BY started_at DESC, rowid DESC LIMIT 1
		`, StatusVerified).Scan(&runUUID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no verified run", ErrRunNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find latest run: %w", err)
		}
	} else {
		var err error
		runUUID, err = l.resolveRun(runRef)
		if err != nil {
			return nil, err
		}
	}

	remap := Remap{RunUUID: runUUID, Model: model, Source: source, OldPK: oldPK}
	var naturalKey sql.NullString
	err := l.db.QueryRow(`
		SELECT new_pk, natural_key FROM pk_remaps
		WHERE run_uuid = ? AND model = ? AND source = ? AND old_pk = ?
	`, runUUID, model, source, oldPK).Scan(&remap.NewPK, &naturalKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s#%d in run %s", ErrRemapNotFound, model, source, oldPK, runUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up remap: %w", err)
	}
	remap.NaturalKey = naturalKey.String
	return &remap, nil
}
