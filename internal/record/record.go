// Package record defines the fixture-style records exported by each platform
// instance and an immutable, model-indexed store over one source's export.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Model names of the reconciled entity types.
const (
	ModelTeam          = "sentry.team"
	ModelProject       = "sentry.project"
	ModelProjectOption = "sentry.projectoption"
	ModelRule          = "sentry.rule"
	ModelProjectKey    = "sentry.projectkey"
)

// Field names read by the merge engine.
const (
	FieldSlug    = "slug"
	FieldProject = "project"
)

// ParentModels are the types identified by a natural key.
var ParentModels = []string{ModelTeam, ModelProject}

// ChildModels are the project-scoped child types, in renormalization order.
var ChildModels = []string{ModelProjectOption, ModelRule, ModelProjectKey}

// ReconciledModels are removed from the base source and rebuilt by the merge,
// listed in output order.
var ReconciledModels = []string{ModelTeam, ModelProject, ModelProjectOption, ModelRule, ModelProjectKey}

// IsReconciled reports whether model is one of the five reconciled types.
func IsReconciled(model string) bool {
	for _, m := range ReconciledModels {
		if m == model {
			return true
		}
	}
	return false
}

// IsChild reports whether model is a project-scoped child type.
func IsChild(model string) bool {
	for _, m := range ChildModels {
		if m == model {
			return true
		}
	}
	return false
}

// Record is one entry of an export. PK is unique only within its source.
//
// A pk that is absent, null or not an integer is kept verbatim in rawPK and
// written back unchanged; PK is then zero and HasPK reports false.
type Record struct {
	Model  string         `json:"model"`
	PK     int64          `json:"pk"`
	Fields map[string]any `json:"fields"`

	rawPK json.RawMessage
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := Record{
		Model:  r.Model,
		PK:     r.PK,
		Fields: cloneMap(r.Fields),
	}
	if r.rawPK != nil {
		c.rawPK = append(json.RawMessage{}, r.rawPK...)
	}
	return c
}

// HasPK reports whether the record carries an integer pk.
func (r Record) HasPK() bool {
	return r.rawPK == nil
}

// RawPK returns the pk as it appeared in the export when it was not an
// integer. An absent pk is empty; a null pk is "null".
func (r Record) RawPK() json.RawMessage {
	return r.rawPK
}

// StringField returns the named field as a string.
func (r Record) StringField(name string) (string, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntField returns the named field as an integer. Numbers decoded as
// json.Number or float64 and numeric strings are accepted.
func (r Record) IntField(name string) (int64, bool) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return 0, false
	}
	n, err := toInt(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetField sets a field, allocating the field map if needed.
func (r *Record) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[name] = value
}

// Key is the origin-scoped identity of a record: a raw pk is only meaningful
// together with the source it came from.
type Key struct {
	Source string `json:"source"`
	PK     int64  `json:"pk"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Source, k.PK)
}

// Tagged is a record annotated with its origin source.
type Tagged struct {
	Origin string
	Record
}

// Key returns the record's own origin-scoped key.
func (t Tagged) Key() Key {
	return Key{Source: t.Origin, PK: t.PK}
}

// ParentKey returns the origin-scoped key of the project this child refers to.
func (t Tagged) ParentKey() (Key, bool) {
	pk, ok := t.IntField(FieldProject)
	if !ok {
		return Key{}, false
	}
	return Key{Source: t.Origin, PK: pk}, true
}

// Clone deep-copies the tagged record, keeping its origin.
func (t Tagged) Clone() Tagged {
	return Tagged{Origin: t.Origin, Record: t.Record.Clone()}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integer value %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
