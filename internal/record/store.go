package record

import "sort"

// Store is an immutable view over one source's export, indexed by model.
// Accessors hand out clones, so nothing read from a Store can change it.
type Store struct {
	source  string
	records []Record
	byModel map[string][]int
}

// NewStore indexes records for the named source. The input slice is copied.
func NewStore(source string, records []Record) *Store {
	s := &Store{
		source:  source,
		records: make([]Record, len(records)),
		byModel: make(map[string][]int),
	}
	for i, r := range records {
		s.records[i] = r.Clone()
		s.byModel[r.Model] = append(s.byModel[r.Model], i)
	}
	return s
}

// Source returns the store's source name.
func (s *Store) Source() string {
	return s.source
}

// Len returns the total number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// All returns a copy of every record in export order.
func (s *Store) All() []Record {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// ByModel returns copies of the records of one model in export order.
func (s *Store) ByModel(model string) []Record {
	idx := s.byModel[model]
	out := make([]Record, len(idx))
	for i, j := range idx {
		out[i] = s.records[j].Clone()
	}
	return out
}

// Tagged returns copies of the records of one model, tagged with this
// store's source name.
func (s *Store) Tagged(model string) []Tagged {
	idx := s.byModel[model]
	out := make([]Tagged, len(idx))
	for i, j := range idx {
		out[i] = Tagged{Origin: s.source, Record: s.records[j].Clone()}
	}
	return out
}

// Count returns the number of records of one model.
func (s *Store) Count(model string) int {
	return len(s.byModel[model])
}

// Models returns the distinct models present, sorted.
func (s *Store) Models() []string {
	models := make([]string, 0, len(s.byModel))
	for m := range s.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// CountByModel returns record counts keyed by model.
func (s *Store) CountByModel() map[string]int {
	counts := make(map[string]int, len(s.byModel))
	for m, idx := range s.byModel {
		counts[m] = len(idx)
	}
	return counts
}
