package merge

import (
	"github.com/lherron/exportmerge/internal/record"
	"golang.org/x/sync/errgroup"
)

// Partition splits the natural keys of one model across sources.
type Partition struct {
	Model   string
	Field   string
	Sources []string

	// Keys holds each source's distinct keys in export order.
	Keys map[string][]string
	// Only holds, per source, the keys present in that source alone.
	Only map[string][]string
	// Multi holds keys present in two or more sources, each once, in order
	// of first appearance by source priority.
	Multi []string
}

// PartitionSummary is the cardinality view of a Partition.
type PartitionSummary struct {
	Model     string         `json:"model" yaml:"model"`
	PerSource map[string]int `json:"per_source" yaml:"per_source"`
	Only      map[string]int `json:"only" yaml:"only"`
	Multi     int            `json:"multi" yaml:"multi"`
	Total     int            `json:"total" yaml:"total"`
}

// PartitionKeys computes the partition of model's natural keys (read from
// field) across stores, which must be in priority order.
func PartitionKeys(model, field string, stores []*record.Store) (*Partition, error) {
	p := &Partition{
		Model: model,
		Field: field,
		Keys:  make(map[string][]string, len(stores)),
		Only:  make(map[string][]string, len(stores)),
	}

	presence := make(map[string]int)
	var order []string
	for _, store := range stores {
		source := store.Source()
		p.Sources = append(p.Sources, source)

		seen := make(map[string]bool)
		for _, r := range store.ByModel(model) {
			key, ok := r.StringField(field)
			if !ok || key == "" {
				return nil, &Error{Kind: ErrMissingNaturalKey, Model: model, Source: source, PK: r.PK,
					Detail: "field " + field + " is absent or not a string"}
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			p.Keys[source] = append(p.Keys[source], key)
			if presence[key] == 0 {
				order = append(order, key)
			}
			presence[key]++
		}
	}

	for _, source := range p.Sources {
		for _, key := range p.Keys[source] {
			if presence[key] == 1 {
				p.Only[source] = append(p.Only[source], key)
			}
		}
	}
	for _, key := range order {
		if presence[key] > 1 {
			p.Multi = append(p.Multi, key)
		}
	}

	return p, nil
}

// Union returns every key once: each source's exclusive keys in priority
// order, followed by the multi-source keys. This is the processing order of
// the merge.
func (p *Partition) Union() []string {
	keys := make([]string, 0, p.Total())
	for _, source := range p.Sources {
		keys = append(keys, p.Only[source]...)
	}
	return append(keys, p.Multi...)
}

// Total is the number of distinct keys across all sources.
func (p *Partition) Total() int {
	total := len(p.Multi)
	for _, keys := range p.Only {
		total += len(keys)
	}
	return total
}

// Summary reports the partition's cardinalities.
func (p *Partition) Summary() PartitionSummary {
	s := PartitionSummary{
		Model:     p.Model,
		PerSource: make(map[string]int, len(p.Sources)),
		Only:      make(map[string]int, len(p.Sources)),
		Multi:     len(p.Multi),
		Total:     p.Total(),
	}
	for _, source := range p.Sources {
		s.PerSource[source] = len(p.Keys[source])
		s.Only[source] = len(p.Only[source])
	}
	return s
}

// PartitionAll partitions every parent model by slug. The models share no
// mutable state, so they are partitioned concurrently.
func PartitionAll(stores []*record.Store) (map[string]*Partition, error) {
	results := make([]*Partition, len(record.ParentModels))

	var g errgroup.Group
	for i, model := range record.ParentModels {
		g.Go(func() error {
			p, err := PartitionKeys(model, record.FieldSlug, stores)
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	partitions := make(map[string]*Partition, len(results))
	for _, p := range results {
		partitions[p.Model] = p
	}
	return partitions, nil
}
