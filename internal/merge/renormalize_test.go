package merge

import (
	"errors"
	"testing"

	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/testutil"
)

func aggregateAll(t *testing.T, stores []*record.Store) ([]ResolvedEntity, []AggregatedEntity) {
	t.Helper()
	partitions, err := PartitionAll(stores)
	if err != nil {
		t.Fatalf("PartitionAll failed: %v", err)
	}
	resolver := NewResolver(stores, record.FieldSlug)
	teams, err := resolver.ResolveAll(partitions[record.ModelTeam])
	if err != nil {
		t.Fatalf("ResolveAll teams failed: %v", err)
	}
	projects, err := resolver.ResolveAll(partitions[record.ModelProject])
	if err != nil {
		t.Fatalf("ResolveAll projects failed: %v", err)
	}
	aggregated, err := NewAggregator(stores).AggregateAll(projects)
	if err != nil {
		t.Fatalf("AggregateAll failed: %v", err)
	}
	return teams, aggregated
}

func TestRenormalizeDenseAndConsistent(t *testing.T) {
	stores := collidingSources()
	stores[0] = testutil.Store("prod",
		testutil.Team(10, "a"),
		testutil.Project(5, "p-prod"),
		testutil.Option(1, 5, "mail:subject_prefix", "[prod]"),
		testutil.Rule(1, 5, "errors", "{}"),
		testutil.ProjectKey(1, 5, "prod-key"),
	)
	teams, aggregated := aggregateAll(t, stores)

	out, err := NewRenormalizer().Run(teams, aggregated)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := CheckIntegrity(out); err != nil {
		t.Fatalf("CheckIntegrity failed: %v", err)
	}

	if len(out.Teams) != 1 || out.Teams[0].PK != 1 {
		t.Errorf("expected team pk 1, got %+v", out.Teams)
	}

	projectPKs := map[int64]bool{}
	optionPKs := map[int64]bool{}
	keyPKs := map[int64]bool{}
	for _, p := range out.Projects {
		projectPKs[p.Record.PK] = true
		for _, o := range p.Options {
			optionPKs[o.PK] = true
			if fk, _ := o.IntField("project"); fk != p.Record.PK {
				t.Errorf("option fk %d, want %d", fk, p.Record.PK)
			}
		}
		for _, k := range p.Keys {
			keyPKs[k.PK] = true
		}
	}
	for pk := int64(1); pk <= 2; pk++ {
		if !projectPKs[pk] {
			t.Errorf("missing project pk %d", pk)
		}
	}
	for pk := int64(1); pk <= 3; pk++ {
		if !optionPKs[pk] || !keyPKs[pk] {
			t.Errorf("missing option or key pk %d", pk)
		}
	}

	// one remap per reconciled record
	if want := 1 + 2 + 3 + 1 + 3; len(out.Remaps) != want {
		t.Errorf("remaps = %d, want %d", len(out.Remaps), want)
	}
}

func TestRenormalizeLeavesInputsUntouched(t *testing.T) {
	teams, aggregated := aggregateAll(t, collidingSources())

	if _, err := NewRenormalizer().Run(teams, aggregated); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if aggregated[0].Record.PK != 5 {
		t.Errorf("input project pk changed to %d", aggregated[0].Record.PK)
	}
	if fk, _ := aggregated[0].Options[0].IntField("project"); fk != 5 {
		t.Errorf("input option fk changed to %d", fk)
	}
}

func TestRenormalizerSingleUse(t *testing.T) {
	n := NewRenormalizer()
	if _, err := n.Run(nil, nil); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := n.Run(nil, nil); !errors.Is(err, ErrRenormalizerReused) {
		t.Fatalf("expected ErrRenormalizerReused, got %v", err)
	}
}

func TestRenormalizeRejectsLeakedChild(t *testing.T) {
	_, aggregated := aggregateAll(t, collidingSources())
	leaked := aggregated[0].Options[0].Clone()
	leaked.Origin = "staging"
	aggregated[0].Options = append(aggregated[0].Options, leaked)

	_, err := NewRenormalizer().Run(nil, aggregated)
	if !errors.Is(err, ErrCrossSourceChildLeak) {
		t.Fatalf("expected ErrCrossSourceChildLeak, got %v", err)
	}
}

func TestCheckIntegrity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Renormalized)
	}{
		{"stale foreign key", func(r *Renormalized) {
			r.Projects[0].Options[0].SetField("project", int64(42))
		}},
		{"missing foreign key", func(r *Renormalized) {
			delete(r.Projects[0].Keys[0].Fields, "project")
		}},
		{"duplicate parent pk", func(r *Renormalized) {
			r.Projects[1].Record.PK = r.Projects[0].Record.PK
			for i := range r.Projects[1].Options {
				r.Projects[1].Options[i].SetField("project", r.Projects[0].Record.PK)
			}
			for i := range r.Projects[1].Keys {
				r.Projects[1].Keys[i].SetField("project", r.Projects[0].Record.PK)
			}
		}},
		{"gap in child pks", func(r *Renormalized) {
			r.Projects[1].Options[0].PK = 9
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, aggregated := aggregateAll(t, collidingSources())
			out, err := NewRenormalizer().Run(nil, aggregated)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			tt.mutate(out)
			if err := CheckIntegrity(out); !errors.Is(err, ErrReferentialIntegrity) {
				t.Errorf("expected ErrReferentialIntegrity, got %v", err)
			}
		})
	}
}
