package merge

import (
	"github.com/lherron/exportmerge/internal/record"
)

// Counts tracks one model through assembly.
type Counts struct {
	Before       int `json:"before" yaml:"before"`
	AfterRemoval int `json:"after_removal" yaml:"after_removal"`
	Final        int `json:"final" yaml:"final"`
}

// Assembly is the merged collection plus per-model counts.
type Assembly struct {
	Records []record.Record
	Counts  map[string]Counts
}

// Assemble starts from the base source's records, drops every reconciled
// model, then appends teams, projects, options, rules and keys in that order.
func Assemble(base *record.Store, teams []record.Tagged, projects []AggregatedEntity) *Assembly {
	counts := make(map[string]Counts, len(record.ReconciledModels))
	for _, model := range record.ReconciledModels {
		counts[model] = Counts{Before: base.Count(model)}
	}

	var records []record.Record
	for _, r := range base.All() {
		if record.IsReconciled(r.Model) {
			continue
		}
		records = append(records, r)
	}
	remaining := countReconciled(records)

	for _, t := range teams {
		records = append(records, t.Record.Clone())
	}
	for _, p := range projects {
		records = append(records, p.Record.Record.Clone())
	}
	for _, model := range record.ChildModels {
		for _, p := range projects {
			for _, child := range p.Children(model) {
				records = append(records, child.Record.Clone())
			}
		}
	}

	final := countReconciled(records)
	for _, model := range record.ReconciledModels {
		c := counts[model]
		c.AfterRemoval = remaining[model]
		c.Final = final[model]
		counts[model] = c
	}

	return &Assembly{Records: records, Counts: counts}
}

func countReconciled(records []record.Record) map[string]int {
	n := make(map[string]int, len(record.ReconciledModels))
	for _, r := range records {
		if record.IsReconciled(r.Model) {
			n[r.Model]++
		}
	}
	return n
}
