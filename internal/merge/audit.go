package merge

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SlugCollision lists distinct natural keys that become equal after Unicode
// compatibility normalization and case folding. Such keys are still treated
// as different entities; the collision is reported for a human to review.
type SlugCollision struct {
	Model  string   `json:"model" yaml:"model"`
	Folded string   `json:"folded" yaml:"folded"`
	Slugs  []string `json:"slugs" yaml:"slugs"`
}

// AuditSlugs finds near-duplicate keys in a partition.
func AuditSlugs(p *Partition) []SlugCollision {
	fold := cases.Fold()
	groups := make(map[string][]string)
	for _, key := range p.Union() {
		folded := fold.String(norm.NFKC.String(strings.TrimSpace(key)))
		groups[folded] = append(groups[folded], key)
	}

	var collisions []SlugCollision
	for folded, slugs := range groups {
		if len(slugs) < 2 {
			continue
		}
		sort.Strings(slugs)
		collisions = append(collisions, SlugCollision{Model: p.Model, Folded: folded, Slugs: slugs})
	}
	sort.Slice(collisions, func(i, j int) bool {
		return collisions[i].Folded < collisions[j].Folded
	})
	return collisions
}
