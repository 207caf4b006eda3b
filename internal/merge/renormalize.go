package merge

import (
	"fmt"

	"github.com/lherron/exportmerge/internal/record"
)

// Remap records one pk reassignment.
type Remap struct {
	Model      string     `json:"model"`
	From       record.Key `json:"from"`
	NaturalKey string     `json:"natural_key,omitempty"`
	To         int64      `json:"to"`
}

// Renormalized is the output of one renormalization run.
type Renormalized struct {
	Teams    []record.Tagged
	Projects []AggregatedEntity
	Remaps   []Remap
}

// Renormalizer assigns dense, 1-based pks per model and rewrites child
// foreign keys to match. Its counters belong to a single run: create a new
// Renormalizer for every merge.
type Renormalizer struct {
	next map[string]int64
	used bool
}

// NewRenormalizer returns a renormalizer with all counters at 1.
func NewRenormalizer() *Renormalizer {
	return &Renormalizer{next: make(map[string]int64)}
}

func (n *Renormalizer) assign(model string) int64 {
	n.next[model]++
	return n.next[model]
}

// Run renormalizes teams and projects in the given order. Inputs are cloned;
// the caller's records are left untouched.
func (n *Renormalizer) Run(teams []ResolvedEntity, projects []AggregatedEntity) (*Renormalized, error) {
	if n.used {
		return nil, ErrRenormalizerReused
	}
	n.used = true

	out := &Renormalized{
		Teams:    make([]record.Tagged, 0, len(teams)),
		Projects: make([]AggregatedEntity, 0, len(projects)),
	}

	for _, team := range teams {
		t := team.Record.Clone()
		t.PK = n.assign(record.ModelTeam)
		out.Remaps = append(out.Remaps, Remap{
			Model:      record.ModelTeam,
			From:       team.Record.Key(),
			NaturalKey: team.NaturalKey,
			To:         t.PK,
		})
		out.Teams = append(out.Teams, t)
	}

	for _, project := range projects {
		entity := AggregatedEntity{ResolvedEntity: project.ResolvedEntity}
		entity.Record = project.Record.Clone()
		entity.Record.PK = n.assign(record.ModelProject)
		out.Remaps = append(out.Remaps, Remap{
			Model:      record.ModelProject,
			From:       project.Record.Key(),
			NaturalKey: project.NaturalKey,
			To:         entity.Record.PK,
		})

		for _, model := range record.ChildModels {
			src := project.Children(model)
			children := make([]record.Tagged, 0, len(src))
			for _, child := range src {
				if child.Origin != project.Origin() {
					return nil, &Error{Kind: ErrCrossSourceChildLeak, Model: model,
						NaturalKey: project.NaturalKey, Source: child.Origin, PK: child.PK,
						Detail: fmt.Sprintf("parent origin is %s", project.Origin())}
				}
				c := child.Clone()
				c.PK = n.assign(model)
				c.SetField(record.FieldProject, entity.Record.PK)
				out.Remaps = append(out.Remaps, Remap{
					Model:      model,
					From:       child.Key(),
					NaturalKey: project.NaturalKey,
					To:         c.PK,
				})
				children = append(children, c)
			}
			entity.setChildren(model, children)
		}
		out.Projects = append(out.Projects, entity)
	}

	return out, nil
}

// CheckIntegrity verifies the renormalized graph: pks dense from 1 per model,
// and every child's foreign key equal to its parent's new pk.
func CheckIntegrity(r *Renormalized) error {
	teamPKs := make([]int64, len(r.Teams))
	for i, t := range r.Teams {
		teamPKs[i] = t.PK
	}
	if err := checkDense(record.ModelTeam, teamPKs); err != nil {
		return err
	}

	projectPKs := make([]int64, len(r.Projects))
	childPKs := make(map[string][]int64, len(record.ChildModels))
	for i, p := range r.Projects {
		projectPKs[i] = p.Record.PK
		for _, model := range record.ChildModels {
			for _, child := range p.Children(model) {
				fk, ok := child.IntField(record.FieldProject)
				if !ok || fk != p.Record.PK {
					return &Error{Kind: ErrReferentialIntegrity, Model: model, NaturalKey: p.NaturalKey,
						Detail: fmt.Sprintf("child pk %d has project %v, want %d", child.PK, child.Fields[record.FieldProject], p.Record.PK)}
				}
				childPKs[model] = append(childPKs[model], child.PK)
			}
		}
	}
	if err := checkDense(record.ModelProject, projectPKs); err != nil {
		return err
	}
	for _, model := range record.ChildModels {
		if err := checkDense(model, childPKs[model]); err != nil {
			return err
		}
	}
	return nil
}

// checkDense requires pks to be exactly {1..len(pks)}.
func checkDense(model string, pks []int64) error {
	seen := make([]bool, len(pks)+1)
	for _, pk := range pks {
		if pk < 1 || pk > int64(len(pks)) {
			return &Error{Kind: ErrReferentialIntegrity, Model: model,
				Detail: fmt.Sprintf("pk %d outside 1..%d", pk, len(pks))}
		}
		if seen[pk] {
			return &Error{Kind: ErrReferentialIntegrity, Model: model,
				Detail: fmt.Sprintf("pk %d assigned twice", pk)}
		}
		seen[pk] = true
	}
	return nil
}
