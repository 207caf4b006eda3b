package merge

import (
	"errors"
	"testing"

	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/testutil"
)

func TestRunSamePKDifferentSources(t *testing.T) {
	prod := testutil.Store("prod",
		testutil.Team(1, "a"),
		testutil.Project(5, "p1"),
		testutil.Option(1, 5, "", "x"),
	)
	staging := testutil.Store("staging",
		testutil.Project(9, "p1"),
		testutil.Option(1, 9, "", "x"),
	)

	result, err := Run(Options{Sources: []*record.Store{prod, staging}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	projects := testutil.FindAll(result.Records, record.ModelProject)
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	if projects[0].PK != 1 {
		t.Errorf("expected project pk 1, got %d", projects[0].PK)
	}

	options := testutil.FindAll(result.Records, record.ModelProjectOption)
	if len(options) != 1 {
		t.Fatalf("expected staging's option not to be double-counted, got %d options", len(options))
	}
	if options[0].PK != 1 {
		t.Errorf("expected option pk 1, got %d", options[0].PK)
	}
	if fk, _ := options[0].IntField("project"); fk != 1 {
		t.Errorf("expected option fk 1, got %d", fk)
	}
	if v, _ := options[0].StringField("value"); v != "x" {
		t.Errorf("expected value x, got %s", v)
	}

	var projectRemap *Remap
	for i, r := range result.Remaps {
		if r.Model == record.ModelProject {
			projectRemap = &result.Remaps[i]
		}
	}
	if projectRemap == nil || projectRemap.From != (record.Key{Source: "prod", PK: 5}) || projectRemap.To != 1 {
		t.Errorf("expected p1 remapped from prod#5 to 1, got %+v", projectRemap)
	}
}

func TestRunLegacyOnlyKey(t *testing.T) {
	prod := testutil.Store("prod",
		testutil.Project(1, "shared"),
		testutil.Option(1, 1, "k", "prod"),
	)
	staging := testutil.Store("staging",
		testutil.Project(1, "shared"),
	)
	legacy := testutil.Store("legacy",
		testutil.Project(1, "ancient"),
		testutil.Option(1, 1, "k", "legacy"),
		testutil.Rule(4, 1, "old rule", "{}"),
	)

	result, err := Run(Options{Sources: []*record.Store{prod, staging, legacy}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ancient := testutil.FindBySlug(t, result.Records, record.ModelProject, "ancient")
	shared := testutil.FindBySlug(t, result.Records, record.ModelProject, "shared")
	if ancient.PK == shared.PK {
		t.Fatalf("projects share pk %d", ancient.PK)
	}

	options := testutil.ChildrenOf(result.Records, record.ModelProjectOption, ancient.PK)
	if len(options) != 1 {
		t.Fatalf("expected 1 option for ancient, got %d", len(options))
	}
	if v, _ := options[0].StringField("value"); v != "legacy" {
		t.Errorf("expected legacy option, got %s", v)
	}
	rules := testutil.ChildrenOf(result.Records, record.ModelRule, ancient.PK)
	if len(rules) != 1 || rules[0].PK != 1 {
		t.Errorf("expected ancient's rule with fresh pk 1, got %+v", rules)
	}
}

func TestRunPassesThroughBaseRecords(t *testing.T) {
	prod := testutil.Store("prod",
		testutil.Other("sentry.organization", 1, map[string]any{"slug": "org"}),
		testutil.Team(3, "a"),
		testutil.Other("sentry.user", 7, map[string]any{"username": "u"}),
	)
	staging := testutil.Store("staging",
		testutil.Other("sentry.user", 8, map[string]any{"username": "staging-only"}),
		testutil.Team(1, "b"),
	)

	result, err := Run(Options{Sources: []*record.Store{prod, staging}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := len(testutil.FindAll(result.Records, "sentry.user")); got != 1 {
		t.Errorf("expected only base users, got %d", got)
	}
	if got := len(testutil.FindAll(result.Records, record.ModelTeam)); got != 2 {
		t.Errorf("expected 2 teams, got %d", got)
	}
	if result.Records[0].Model != "sentry.organization" {
		t.Errorf("expected base records first, got %s", result.Records[0].Model)
	}

	c := result.Counts[record.ModelTeam]
	if c.Before != 1 || c.AfterRemoval != 0 || c.Final != 2 {
		t.Errorf("unexpected team counts %+v", c)
	}
}

func TestRunBaseSource(t *testing.T) {
	prod := testutil.Store("prod", testutil.Other("sentry.user", 1, nil))
	staging := testutil.Store("staging", testutil.Other("sentry.option", 1, nil))

	result, err := Run(Options{Sources: []*record.Store{prod, staging}, Base: "staging"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].Model != "sentry.option" {
		t.Errorf("expected staging's records, got %+v", result.Records)
	}
}

func TestRunInvalidOptions(t *testing.T) {
	prod := testutil.Store("prod")
	tests := []struct {
		name string
		opts Options
	}{
		{"no sources", Options{}},
		{"duplicate source", Options{Sources: []*record.Store{prod, prod}}},
		{"unnamed source", Options{Sources: []*record.Store{testutil.Store("")}}},
		{"unknown base", Options{Sources: []*record.Store{prod}, Base: "staging"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Run(tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestRunAbortsOnDuplicate(t *testing.T) {
	prod := testutil.Store("prod", testutil.Team(1, "a"), testutil.Team(2, "a"))
	_, err := Run(Options{Sources: []*record.Store{prod}})
	if !errors.Is(err, ErrDuplicateNaturalKey) {
		t.Fatalf("expected ErrDuplicateNaturalKey, got %v", err)
	}
}

func TestRunReportsCollisionsAndOrphans(t *testing.T) {
	prod := testutil.Store("prod",
		testutil.Project(1, "Billing"),
		testutil.Option(1, 77, "k", "v"),
	)
	staging := testutil.Store("staging",
		testutil.Project(1, "billing"),
	)

	result, err := Run(Options{Sources: []*record.Store{prod, staging}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := len(testutil.FindAll(result.Records, record.ModelProject)); got != 2 {
		t.Errorf("case-differing slugs must stay separate, got %d projects", got)
	}
	if len(result.Collisions) != 1 || result.Collisions[0].Folded != "billing" {
		t.Errorf("unexpected collisions %+v", result.Collisions)
	}
	if len(result.Orphans) != 1 || result.Orphans[0] != (Orphan{Model: record.ModelProjectOption, Key: record.Key{Source: "prod", PK: 1}}) {
		t.Errorf("unexpected orphans %+v", result.Orphans)
	}
}

func TestRunParentDensity(t *testing.T) {
	prod := testutil.Store("prod",
		testutil.Project(40, "a"), testutil.Project(41, "b"),
		testutil.Option(3, 40, "k", "1"), testutil.Option(9, 41, "k", "2"),
	)
	staging := testutil.Store("staging",
		testutil.Project(40, "c"), testutil.Project(2, "a"),
		testutil.Option(3, 40, "k", "3"), testutil.Option(4, 2, "k", "ignored"),
	)

	result, err := Run(Options{Sources: []*record.Store{prod, staging}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	projectPKs := map[int64]bool{}
	for _, p := range testutil.FindAll(result.Records, record.ModelProject) {
		projectPKs[p.PK] = true
	}
	if len(projectPKs) != 3 || !projectPKs[1] || !projectPKs[2] || !projectPKs[3] {
		t.Errorf("project pks = %v, want {1,2,3}", projectPKs)
	}

	options := testutil.FindAll(result.Records, record.ModelProjectOption)
	if len(options) != 3 {
		t.Fatalf("expected 3 options, got %d", len(options))
	}
	for _, o := range options {
		fk, _ := o.IntField("project")
		if !projectPKs[fk] {
			t.Errorf("option %d points at missing project %d", o.PK, fk)
		}
	}
}
