// Package snapshot reads and writes fixture-style export files.
//
// An export is a JSON array of {"model", "pk", "fields"} objects. Numbers
// inside fields are decoded as json.Number so pass-through records keep their
// exact values when written back out.
package snapshot

import (
	"time"
)

// Options configures how records are encoded.
type Options struct {
	// Canonical disables indentation; output is compact and deterministic.
	Canonical bool
	// Indent is used when Canonical is false (default: two spaces).
	Indent string
}

// LoadResult describes one loaded export file.
type LoadResult struct {
	Path    string         `json:"path" yaml:"path"`
	Rev     string         `json:"rev" yaml:"rev"`
	Records int            `json:"records" yaml:"records"`
	Models  map[string]int `json:"models,omitempty" yaml:"models,omitempty"`
}

// WriteResult describes a written export file.
type WriteResult struct {
	Path    string `json:"out" yaml:"out"`
	Rev     string `json:"rev" yaml:"rev"`
	Records int    `json:"records" yaml:"records"`
}

// FileSuffix is appended to the timestamp of merged output files.
const FileSuffix = "_merged_export.json"

// InvalidSuffix replaces FileSuffix on outputs that failed verification.
const InvalidSuffix = "_merged_export.invalid.json"

// FormatFileTimestamp formats t the way merged output files are named.
func FormatFileTimestamp(t time.Time) string {
	return t.Format("01-02-2006.15.04.05")
}
