// Package verify checks a merged export against the exports it was built
// from. It re-derives everything it needs from the raw sources and never
// looks at state produced by the merge pipeline.
package verify

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/snapshot"
	"github.com/pmezard/go-difflib/difflib"
)

// ErrMergeDiscrepancy is wrapped by every verification failure.
var ErrMergeDiscrepancy = errors.New("merge discrepancy")

// Discrepancy describes the first source record found without a merged
// counterpart.
type Discrepancy struct {
	Model      string `json:"model" yaml:"model"`
	NaturalKey string `json:"natural_key,omitempty" yaml:"natural_key,omitempty"`
	Category   string `json:"category,omitempty" yaml:"category,omitempty"`
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`
	PK         int64  `json:"pk,omitempty" yaml:"pk,omitempty"`
	Reason     string `json:"reason" yaml:"reason"`
	Diff       string `json:"diff,omitempty" yaml:"diff,omitempty"`
}

func (d *Discrepancy) Error() string {
	var b strings.Builder
	b.WriteString(ErrMergeDiscrepancy.Error())
	b.WriteString(": ")
	b.WriteString(d.Reason)
	fmt.Fprintf(&b, " (model=%s", d.Model)
	if d.NaturalKey != "" {
		fmt.Fprintf(&b, " key=%q", d.NaturalKey)
	}
	if d.Category != "" {
		fmt.Fprintf(&b, " category=%s", d.Category)
	}
	if d.Source != "" {
		fmt.Fprintf(&b, " source=%s pk=%d", d.Source, d.PK)
	}
	b.WriteString(")")
	return b.String()
}

func (d *Discrepancy) Unwrap() error {
	return ErrMergeDiscrepancy
}

// Options configures verification.
type Options struct {
	// CompareFields lists, per child model, the fields whose values must
	// match between a source child and its merged counterpart.
	CompareFields map[string][]string
	// Logger receives progress output (default: discarded).
	Logger *slog.Logger
}

// DefaultCompareFields returns the comparison fields used when none are
// configured for a child model.
func DefaultCompareFields() map[string][]string {
	return map[string][]string{
		record.ModelProjectOption: {"key", "value"},
		record.ModelRule:          {"label", "data"},
		record.ModelProjectKey:    {"public_key"},
	}
}

// ModelReport holds the counts for one model.
type ModelReport struct {
	Model     string         `json:"model" yaml:"model"`
	PerSource map[string]int `json:"per_source,omitempty" yaml:"per_source,omitempty"`
	Only      map[string]int `json:"only,omitempty" yaml:"only,omitempty"`
	Multi     int            `json:"multi" yaml:"multi"`
	Total     int            `json:"total" yaml:"total"`
	Checked   int            `json:"checked" yaml:"checked"`
	Merged    int            `json:"merged" yaml:"merged"`
}

// Report summarizes a verification.
type Report struct {
	Sources []string      `json:"sources" yaml:"sources"`
	Models  []ModelReport `json:"models" yaml:"models"`
	OK      bool          `json:"ok" yaml:"ok"`
}

// Verify checks that every team and project of every source exists exactly
// once in merged, and that every child of a project's origin record has a
// merged child under the merged project with equal comparison fields. It
// stops at the first failure and returns the report built so far together
// with a *Discrepancy.
func Verify(sources []*record.Store, merged *record.Store, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	compare := DefaultCompareFields()
	for model, fields := range opts.CompareFields {
		if len(fields) > 0 {
			compare[model] = fields
		}
	}

	report := &Report{}
	for _, s := range sources {
		report.Sources = append(report.Sources, s.Source())
	}

	v := &verifier{sources: sources, merged: merged, compare: compare, report: report, logger: logger}

	if err := v.checkParents(record.ModelTeam); err != nil {
		return report, err
	}
	projects, err := v.checkParentsAndReturn(record.ModelProject)
	if err != nil {
		return report, err
	}
	for _, model := range record.ChildModels {
		if err := v.checkChildren(model, projects); err != nil {
			return report, err
		}
	}
	if err := v.checkForeignKeys(); err != nil {
		return report, err
	}

	report.OK = true
	return report, nil
}

type verifier struct {
	sources []*record.Store
	merged  *record.Store
	compare map[string][]string
	report  *Report
	logger  *slog.Logger
}

// matchedParent pairs a natural key's origin record with its merged record.
type matchedParent struct {
	naturalKey string
	origin     record.Tagged
	merged     record.Record
}

func bySlug(records []record.Record) (map[string][]record.Record, []string) {
	index := make(map[string][]record.Record)
	var order []string
	for _, r := range records {
		slug, _ := r.StringField(record.FieldSlug)
		if _, ok := index[slug]; !ok {
			order = append(order, slug)
		}
		index[slug] = append(index[slug], r)
	}
	return index, order
}

func (v *verifier) checkParents(model string) error {
	_, err := v.checkParentsAndReturn(model)
	return err
}

func (v *verifier) checkParentsAndReturn(model string) ([]matchedParent, error) {
	mr := ModelReport{
		Model:     model,
		PerSource: make(map[string]int, len(v.sources)),
		Only:      make(map[string]int, len(v.sources)),
		Merged:    v.merged.Count(model),
	}

	perSource := make([]map[string][]record.Record, len(v.sources))
	presence := make(map[string]int)
	var union []string
	for i, s := range v.sources {
		index, order := bySlug(s.ByModel(model))
		perSource[i] = index
		mr.PerSource[s.Source()] = len(order)
		for _, slug := range order {
			if presence[slug] == 0 {
				union = append(union, slug)
			}
			presence[slug]++
		}
	}
	for i, s := range v.sources {
		for slug := range perSource[i] {
			if presence[slug] == 1 {
				mr.Only[s.Source()]++
			}
		}
	}
	for _, slug := range union {
		if presence[slug] > 1 {
			mr.Multi++
		}
	}
	mr.Total = len(union)

	mergedIndex, _ := bySlug(v.merged.ByModel(model))

	matched := make([]matchedParent, 0, len(union))
	for _, slug := range union {
		candidates := mergedIndex[slug]
		switch len(candidates) {
		case 0:
			v.appendReport(mr)
			return nil, &Discrepancy{Model: model, NaturalKey: slug, Reason: "no merged record for natural key"}
		case 1:
		default:
			v.appendReport(mr)
			return nil, &Discrepancy{Model: model, NaturalKey: slug,
				Reason: fmt.Sprintf("natural key appears %d times in merged output", len(candidates))}
		}

		// The origin is the highest-priority source holding the key.
		for i, s := range v.sources {
			recs := perSource[i][slug]
			if len(recs) == 0 {
				continue
			}
			if len(recs) > 1 {
				v.appendReport(mr)
				return nil, &Discrepancy{Model: model, NaturalKey: slug, Source: s.Source(), PK: recs[1].PK,
					Reason: "natural key is ambiguous in its origin source"}
			}
			matched = append(matched, matchedParent{
				naturalKey: slug,
				origin:     record.Tagged{Origin: s.Source(), Record: recs[0]},
				merged:     candidates[0],
			})
			break
		}
		mr.Checked++
	}

	v.appendReport(mr)
	v.logger.Info("compared and successfully merged", "model", model, "merged", mr.Merged, "checked", mr.Checked)
	return matched, nil
}

func (v *verifier) checkChildren(model string, projects []matchedParent) error {
	fields := v.compare[model]
	mr := ModelReport{Model: model, Merged: v.merged.Count(model)}

	mergedByProject := childrenByProject(v.merged.ByModel(model))
	sourceByProject := make(map[string]map[int64][]record.Record, len(v.sources))
	for _, s := range v.sources {
		sourceByProject[s.Source()] = childrenByProject(s.ByModel(model))
		mr.Total += s.Count(model)
	}

	for _, p := range projects {
		expected := sourceByProject[p.origin.Origin][p.origin.PK]
		actual := mergedByProject[p.merged.PK]

		// One merged child matches at most one expected child.
		actualValues := make(map[string]int, len(actual))
		for _, r := range actual {
			value, err := comparisonValue(r, fields)
			if err != nil {
				return fmt.Errorf("failed to encode merged %s pk %d: %w", model, r.PK, err)
			}
			actualValues[value]++
		}

		for _, r := range expected {
			value, err := comparisonValue(r, fields)
			if err != nil {
				return fmt.Errorf("failed to encode %s %s pk %d: %w", p.origin.Origin, model, r.PK, err)
			}
			if actualValues[value] > 0 {
				actualValues[value]--
				mr.Checked++
				continue
			}
			v.appendReport(mr)
			return &Discrepancy{
				Model:      record.ModelProject,
				NaturalKey: p.naturalKey,
				Category:   model,
				Source:     p.origin.Origin,
				PK:         r.PK,
				Reason:     "no merged child with matching " + strings.Join(fields, ","),
				Diff:       valuesDiff(p.origin.Origin, expected, actual, fields),
			}
		}
	}

	v.appendReport(mr)
	v.logger.Info("compared and successfully merged", "model", model, "merged", mr.Merged, "checked", mr.Checked)
	return nil
}

// checkForeignKeys requires every merged child to point at a merged project.
func (v *verifier) checkForeignKeys() error {
	projects := make(map[int64]string)
	for _, p := range v.merged.ByModel(record.ModelProject) {
		slug, _ := p.StringField(record.FieldSlug)
		projects[p.PK] = slug
	}
	for _, model := range record.ChildModels {
		for _, r := range v.merged.ByModel(model) {
			fk, ok := r.IntField(record.FieldProject)
			if _, found := projects[fk]; !ok || !found {
				return &Discrepancy{Model: record.ModelProject, Category: model, Source: "merged", PK: r.PK,
					Reason: fmt.Sprintf("merged child references missing project %v", r.Fields[record.FieldProject])}
			}
		}
	}
	return nil
}

func (v *verifier) appendReport(mr ModelReport) {
	v.report.Models = append(v.report.Models, mr)
}

func childrenByProject(records []record.Record) map[int64][]record.Record {
	out := make(map[int64][]record.Record)
	for _, r := range records {
		fk, ok := r.IntField(record.FieldProject)
		if !ok {
			continue
		}
		out[fk] = append(out[fk], r)
	}
	return out
}

// comparisonValue encodes the compared fields of r; absent fields encode as
// null so two records missing the same field compare equal.
func comparisonValue(r record.Record, fields []string) (string, error) {
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = r.Fields[f]
	}
	return snapshot.CanonicalValue(values)
}

func valuesDiff(origin string, expected, actual []record.Record, fields []string) string {
	lines := func(records []record.Record) []string {
		out := make([]string, 0, len(records))
		for _, r := range records {
			value, err := comparisonValue(r, fields)
			if err != nil {
				continue
			}
			out = append(out, value+"\n")
		}
		sort.Strings(out)
		return out
	}

	diff := difflib.UnifiedDiff{
		A:        lines(expected),
		B:        lines(actual),
		FromFile: origin,
		ToFile:   "merged",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}
