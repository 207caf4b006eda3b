package merge

import (
	"github.com/lherron/exportmerge/internal/record"
)

// ResolvedEntity is the canonical record chosen for one natural key. The
// record's Origin is the source it was taken from.
type ResolvedEntity struct {
	NaturalKey string
	Record     record.Tagged
}

// Origin returns the source the canonical record came from.
func (e ResolvedEntity) Origin() string {
	return e.Record.Origin
}

// Resolver picks canonical records by strict source priority.
type Resolver struct {
	stores []*record.Store
	field  string
	// model -> source -> natural key -> records with that key
	index map[string]map[string]map[string][]record.Tagged
}

// NewResolver creates a resolver over stores, which must be in priority
// order. Natural keys are read from field.
func NewResolver(stores []*record.Store, field string) *Resolver {
	return &Resolver{
		stores: stores,
		field:  field,
		index:  make(map[string]map[string]map[string][]record.Tagged),
	}
}

func (r *Resolver) modelIndex(model string) map[string]map[string][]record.Tagged {
	if idx, ok := r.index[model]; ok {
		return idx
	}
	idx := make(map[string]map[string][]record.Tagged, len(r.stores))
	for _, store := range r.stores {
		byKey := make(map[string][]record.Tagged)
		for _, t := range store.Tagged(model) {
			key, ok := t.StringField(r.field)
			if !ok {
				continue
			}
			byKey[key] = append(byKey[key], t)
		}
		idx[store.Source()] = byKey
	}
	r.index[model] = idx
	return idx
}

// Resolve scans sources in priority order; the first one holding a record
// with the key supplies the canonical record.
func (r *Resolver) Resolve(model, key string) (ResolvedEntity, error) {
	idx := r.modelIndex(model)
	for _, store := range r.stores {
		source := store.Source()
		matches := idx[source][key]
		switch len(matches) {
		case 0:
			continue
		case 1:
			return ResolvedEntity{NaturalKey: key, Record: matches[0]}, nil
		default:
			return ResolvedEntity{}, &Error{Kind: ErrDuplicateNaturalKey, Model: model, NaturalKey: key,
				Source: source, PK: matches[1].PK}
		}
	}
	return ResolvedEntity{}, &Error{Kind: ErrUnresolvableKey, Model: model, NaturalKey: key}
}

// ResolveAll resolves every key of the partition in Union order.
func (r *Resolver) ResolveAll(p *Partition) ([]ResolvedEntity, error) {
	keys := p.Union()
	resolved := make([]ResolvedEntity, 0, len(keys))
	for _, key := range keys {
		entity, err := r.Resolve(p.Model, key)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, entity)
	}
	return resolved, nil
}
