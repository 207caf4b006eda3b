package merge

import (
	"fmt"

	"github.com/lherron/exportmerge/internal/record"
)

// AggregatedEntity is a resolved project with the children that belong to it
// in its origin source.
type AggregatedEntity struct {
	ResolvedEntity
	Options []record.Tagged
	Rules   []record.Tagged
	Keys    []record.Tagged
}

// Children returns the children of one child model.
func (e *AggregatedEntity) Children(model string) []record.Tagged {
	switch model {
	case record.ModelProjectOption:
		return e.Options
	case record.ModelRule:
		return e.Rules
	case record.ModelProjectKey:
		return e.Keys
	}
	return nil
}

func (e *AggregatedEntity) setChildren(model string, children []record.Tagged) {
	switch model {
	case record.ModelProjectOption:
		e.Options = children
	case record.ModelRule:
		e.Rules = children
	case record.ModelProjectKey:
		e.Keys = children
	}
}

// Aggregator groups child records under their parent. Children are tagged
// with their origin before indexing and looked up by record.Key, so two
// projects that share a raw pk in different sources never share children.
type Aggregator struct {
	sources  map[string]bool
	byParent map[string]map[record.Key][]record.Tagged // model -> parent key -> children
	orphans  []record.Tagged
}

// NewAggregator indexes the child models of every store.
func NewAggregator(stores []*record.Store) *Aggregator {
	a := &Aggregator{
		sources:  make(map[string]bool, len(stores)),
		byParent: make(map[string]map[record.Key][]record.Tagged, len(record.ChildModels)),
	}
	for _, model := range record.ChildModels {
		a.byParent[model] = make(map[record.Key][]record.Tagged)
	}

	for _, store := range stores {
		a.sources[store.Source()] = true

		projects := make(map[int64]bool)
		for _, p := range store.ByModel(record.ModelProject) {
			projects[p.PK] = true
		}

		for _, model := range record.ChildModels {
			for _, child := range store.Tagged(model) {
				parent, ok := child.ParentKey()
				if !ok || !projects[parent.PK] {
					a.orphans = append(a.orphans, child)
					continue
				}
				a.byParent[model][parent] = append(a.byParent[model][parent], child)
			}
		}
	}
	return a
}

// Aggregate collects the children of a resolved project from its origin
// source only.
func (a *Aggregator) Aggregate(parent ResolvedEntity) (AggregatedEntity, error) {
	origin := parent.Origin()
	if !a.sources[origin] {
		return AggregatedEntity{}, &Error{Kind: ErrUnknownOriginSource, Model: parent.Record.Model,
			NaturalKey: parent.NaturalKey, Detail: fmt.Sprintf("origin %q", origin)}
	}

	entity := AggregatedEntity{ResolvedEntity: parent}
	parentKey := parent.Record.Key()
	for _, model := range record.ChildModels {
		matched := a.byParent[model][parentKey]
		children := make([]record.Tagged, 0, len(matched))
		for _, child := range matched {
			if child.Origin != origin {
				return AggregatedEntity{}, &Error{Kind: ErrCrossSourceChildLeak, Model: model,
					NaturalKey: parent.NaturalKey, Source: child.Origin, PK: child.PK,
					Detail: fmt.Sprintf("parent origin is %s", origin)}
			}
			children = append(children, child.Clone())
		}
		entity.setChildren(model, children)
	}
	return entity, nil
}

// AggregateAll aggregates every resolved project, preserving order.
func (a *Aggregator) AggregateAll(parents []ResolvedEntity) ([]AggregatedEntity, error) {
	out := make([]AggregatedEntity, 0, len(parents))
	for _, p := range parents {
		entity, err := a.Aggregate(p)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Orphans returns child records whose foreign key points at no project in
// their own source. They cannot be placed and are left out of the merge.
func (a *Aggregator) Orphans() []record.Tagged {
	return a.orphans
}
