package merge

import (
	"reflect"
	"testing"

	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/testutil"
)

func TestAuditSlugs(t *testing.T) {
	stores := []*record.Store{
		testutil.Store("prod",
			testutil.Team(1, "Platform"),
			testutil.Team(2, "ops"),
			testutil.Team(3, "ﬁnance"), // U+FB01 ligature
		),
		testutil.Store("staging",
			testutil.Team(1, "platform"),
			testutil.Team(2, "finance"),
			testutil.Team(3, "ops"),
		),
	}
	p, err := PartitionKeys(record.ModelTeam, record.FieldSlug, stores)
	if err != nil {
		t.Fatalf("PartitionKeys failed: %v", err)
	}

	collisions := AuditSlugs(p)
	if len(collisions) != 2 {
		t.Fatalf("expected 2 collisions, got %+v", collisions)
	}
	if collisions[0].Folded != "finance" || !reflect.DeepEqual(collisions[0].Slugs, []string{"finance", "ﬁnance"}) {
		t.Errorf("unexpected first collision %+v", collisions[0])
	}
	if collisions[1].Folded != "platform" || !reflect.DeepEqual(collisions[1].Slugs, []string{"Platform", "platform"}) {
		t.Errorf("unexpected second collision %+v", collisions[1])
	}
}

func TestAuditSlugsNone(t *testing.T) {
	stores := []*record.Store{testutil.Store("prod", testutil.Team(1, "a"), testutil.Team(2, "b"))}
	p, err := PartitionKeys(record.ModelTeam, record.FieldSlug, stores)
	if err != nil {
		t.Fatalf("PartitionKeys failed: %v", err)
	}
	if got := AuditSlugs(p); len(got) != 0 {
		t.Errorf("expected no collisions, got %+v", got)
	}
}
