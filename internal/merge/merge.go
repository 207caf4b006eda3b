// Package merge reconciles the exports of several instances of the same
// platform into one dataset.
//
// Teams and projects are matched across sources by slug. For each slug the
// highest-priority source that has it supplies the canonical record, and a
// project's options, rules and keys are taken from that same source only.
// Every reconciled record then gets a fresh pk, dense from 1 per model, and
// child foreign keys are rewritten to the new project pks. Everything outside
// the five reconciled models is passed through from the base source.
package merge

import (
	"fmt"
	"log/slog"

	"github.com/lherron/exportmerge/internal/record"
)

// Options configures a merge run.
type Options struct {
	// Sources in priority order; the first source wins every tie.
	Sources []*record.Store
	// Base names the source whose non-reconciled records are kept.
	// Defaults to the first source.
	Base string
	// Logger receives progress output (default: discarded).
	Logger *slog.Logger
}

// Result is the outcome of a successful merge.
type Result struct {
	Sources    []string           `json:"sources" yaml:"sources"`
	Base       string             `json:"base" yaml:"base"`
	Partitions []PartitionSummary `json:"partitions" yaml:"partitions"`
	Counts     map[string]Counts  `json:"counts" yaml:"counts"`
	Collisions []SlugCollision    `json:"slug_collisions,omitempty" yaml:"slug_collisions,omitempty"`
	Orphans    []Orphan           `json:"orphans,omitempty" yaml:"orphans,omitempty"`

	Records []record.Record `json:"-" yaml:"-"`
	Remaps  []Remap         `json:"-" yaml:"-"`
}

// Orphan is a child record left out because its project is missing.
type Orphan struct {
	Model string     `json:"model" yaml:"model"`
	Key   record.Key `json:"key" yaml:"key"`
}

// Run executes partition, resolution, aggregation, renormalization and
// assembly. It returns on the first error; no partial result is produced.
func Run(opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base, err := validateOptions(&opts)
	if err != nil {
		return nil, err
	}

	result := &Result{Base: base.Source()}
	for _, s := range opts.Sources {
		result.Sources = append(result.Sources, s.Source())
	}

	partitions, err := PartitionAll(opts.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to partition: %w", err)
	}
	for _, model := range record.ParentModels {
		p := partitions[model]
		summary := p.Summary()
		result.Partitions = append(result.Partitions, summary)
		result.Collisions = append(result.Collisions, AuditSlugs(p)...)
		logger.Info("partitioned", "model", model, "only", summary.Only, "multi", summary.Multi, "total", summary.Total)
	}
	for _, c := range result.Collisions {
		logger.Warn("slugs differ only by case or normalization", "model", c.Model, "slugs", c.Slugs)
	}

	resolver := NewResolver(opts.Sources, record.FieldSlug)
	teams, err := resolver.ResolveAll(partitions[record.ModelTeam])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve teams: %w", err)
	}
	projects, err := resolver.ResolveAll(partitions[record.ModelProject])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve projects: %w", err)
	}

	aggregator := NewAggregator(opts.Sources)
	aggregated, err := aggregator.AggregateAll(projects)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate children: %w", err)
	}
	for _, orphan := range aggregator.Orphans() {
		result.Orphans = append(result.Orphans, Orphan{Model: orphan.Model, Key: orphan.Key()})
		logger.Warn("child has no project in its source", "model", orphan.Model, "source", orphan.Origin, "pk", orphan.PK)
	}

	renormalized, err := NewRenormalizer().Run(teams, aggregated)
	if err != nil {
		return nil, fmt.Errorf("failed to renormalize: %w", err)
	}
	if err := CheckIntegrity(renormalized); err != nil {
		return nil, fmt.Errorf("renormalized graph failed self-check: %w", err)
	}
	result.Remaps = renormalized.Remaps

	assembly := Assemble(base, renormalized.Teams, renormalized.Projects)
	result.Records = assembly.Records
	result.Counts = assembly.Counts
	for _, model := range record.ReconciledModels {
		c := assembly.Counts[model]
		logger.Info("assembled", "model", model, "before", c.Before, "after_removal", c.AfterRemoval, "final", c.Final)
	}

	return result, nil
}

func validateOptions(opts *Options) (*record.Store, error) {
	if len(opts.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrInvalidOptions)
	}

	seen := make(map[string]bool, len(opts.Sources))
	for _, s := range opts.Sources {
		if s == nil {
			return nil, fmt.Errorf("%w: nil source", ErrInvalidOptions)
		}
		if s.Source() == "" {
			return nil, fmt.Errorf("%w: source without a name", ErrInvalidOptions)
		}
		if seen[s.Source()] {
			return nil, fmt.Errorf("%w: source %q listed twice", ErrInvalidOptions, s.Source())
		}
		seen[s.Source()] = true
	}

	if opts.Base == "" {
		return opts.Sources[0], nil
	}
	for _, s := range opts.Sources {
		if s.Source() == opts.Base {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: base source %q is not a configured source", ErrInvalidOptions, opts.Base)
}
