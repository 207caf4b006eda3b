// Package orgfix rewrites environment-specific fields of a merged export so it
// can be imported into a different organization.
package orgfix

import (
	"github.com/lherron/exportmerge/internal/record"
)

// Options configures a patch.
type Options struct {
	// OrganizationID is written to the organization field of every record
	// whose model is in Models.
	OrganizationID int64
	// Models to patch (default: teams and projects).
	Models []string
	// EnsureFields adds missing fields with the given value, per model.
	// Defaults to a null platform on projects.
	EnsureFields map[string]map[string]any
}

// Result counts changes per model.
type Result struct {
	Organization map[string]int `json:"organization" yaml:"organization"`
	Ensured      map[string]int `json:"ensured" yaml:"ensured"`
}

// DefaultEnsureFields returns the fields added when absent.
func DefaultEnsureFields() map[string]map[string]any {
	return map[string]map[string]any{
		record.ModelProject: {"platform": nil},
	}
}

// Patch returns patched copies of records; the input is not modified.
func Patch(records []record.Record, opts Options) ([]record.Record, *Result) {
	models := opts.Models
	if len(models) == 0 {
		models = record.ParentModels
	}
	ensure := opts.EnsureFields
	if ensure == nil {
		ensure = DefaultEnsureFields()
	}

	targets := make(map[string]bool, len(models))
	for _, m := range models {
		targets[m] = true
	}

	result := &Result{
		Organization: make(map[string]int),
		Ensured:      make(map[string]int),
	}
	out := make([]record.Record, len(records))
	for i, r := range records {
		r = r.Clone()
		if targets[r.Model] {
			r.SetField("organization", opts.OrganizationID)
			result.Organization[r.Model]++
		}
		for field, value := range ensure[r.Model] {
			if _, ok := r.Fields[field]; !ok {
				r.SetField(field, value)
				result.Ensured[r.Model]++
			}
		}
		out[i] = r
	}
	return out, result
}
