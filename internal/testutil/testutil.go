package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lherron/exportmerge/internal/db"
	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/snapshot"
)

// TempLedger creates a migrated ledger database for testing
func TempLedger(t *testing.T) (*db.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test ledger: %v", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database, dbPath
}

// Team builds a team record.
func Team(pk int64, slug string) record.Record {
	return record.Record{Model: record.ModelTeam, PK: pk, Fields: map[string]any{
		"slug":         slug,
		"name":         strings.ToUpper(slug),
		"organization": int64(1),
	}}
}

// Project builds a project record.
func Project(pk int64, slug string) record.Record {
	return record.Record{Model: record.ModelProject, PK: pk, Fields: map[string]any{
		"slug":         slug,
		"name":         strings.ToUpper(slug),
		"organization": int64(1),
	}}
}

// Option builds a project option owned by project.
func Option(pk, project int64, key, value string) record.Record {
	return record.Record{Model: record.ModelProjectOption, PK: pk, Fields: map[string]any{
		"project": project,
		"key":     key,
		"value":   value,
	}}
}

// Rule builds an alert rule owned by project.
func Rule(pk, project int64, label, data string) record.Record {
	return record.Record{Model: record.ModelRule, PK: pk, Fields: map[string]any{
		"project": project,
		"label":   label,
		"data":    data,
	}}
}

// ProjectKey builds a client key owned by project.
func ProjectKey(pk, project int64, publicKey string) record.Record {
	return record.Record{Model: record.ModelProjectKey, PK: pk, Fields: map[string]any{
		"project":    project,
		"public_key": publicKey,
	}}
}

// Other builds a pass-through record of an arbitrary model.
func Other(model string, pk int64, fields map[string]any) record.Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return record.Record{Model: model, PK: pk, Fields: fields}
}

// Store builds an immutable store for source.
func Store(source string, records ...record.Record) *record.Store {
	return record.NewStore(source, records)
}

// WriteExport writes records as an export file in dir and returns its path.
func WriteExport(t *testing.T, dir, name string, records ...record.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if _, err := snapshot.WriteFile(path, records, snapshot.Options{}); err != nil {
		t.Fatalf("Failed to write export %s: %v", path, err)
	}
	return path
}

// WriteFile writes content to a file in a temporary directory
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// FindAll returns the records of model, in order.
func FindAll(records []record.Record, model string) []record.Record {
	var out []record.Record
	for _, r := range records {
		if r.Model == model {
			out = append(out, r)
		}
	}
	return out
}

// FindBySlug returns the first record of model with the given slug.
func FindBySlug(t *testing.T, records []record.Record, model, slug string) record.Record {
	t.Helper()
	for _, r := range FindAll(records, model) {
		if s, _ := r.StringField("slug"); s == slug {
			return r
		}
	}
	t.Fatalf("no %s with slug %q", model, slug)
	return record.Record{}
}

// ChildrenOf returns the records of a child model pointing at projectPK.
func ChildrenOf(records []record.Record, model string, projectPK int64) []record.Record {
	var out []record.Record
	for _, r := range FindAll(records, model) {
		if fk, ok := r.IntField("project"); ok && fk == projectPK {
			out = append(out, r)
		}
	}
	return out
}
