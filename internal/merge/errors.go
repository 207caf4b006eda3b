package merge

import (
	"errors"
	"fmt"
	"strings"
)

// Every error below aborts the merge. Nothing is written for a run that
// returns one of them.
var (
	// ErrUnresolvableKey: a key in the partition union is in no source.
	ErrUnresolvableKey = errors.New("unresolvable natural key")
	// ErrCrossSourceChildLeak: a child was aggregated from a source other
	// than its parent's origin.
	ErrCrossSourceChildLeak = errors.New("cross-source child leak")
	// ErrDuplicateNaturalKey: the winning source holds two records with the
	// same natural key.
	ErrDuplicateNaturalKey = errors.New("duplicate natural key")
	// ErrReferentialIntegrity: after renormalization a pk or foreign key is
	// out of place.
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	// ErrUnknownOriginSource: a resolved parent names a source that is not
	// configured.
	ErrUnknownOriginSource = errors.New("unknown origin source")
	// ErrMissingNaturalKey: a parent record has no usable natural key.
	ErrMissingNaturalKey = errors.New("missing natural key")
	// ErrRenormalizerReused: pk counters are scoped to exactly one run.
	ErrRenormalizerReused = errors.New("renormalizer already used")
	// ErrInvalidOptions: the source list or base source is unusable.
	ErrInvalidOptions = errors.New("invalid merge options")
)

// Error carries the context of a fatal merge error. Use errors.Is against the
// sentinel errors above to classify it.
type Error struct {
	Kind       error
	Model      string
	NaturalKey string
	Source     string
	PK         int64
	Detail     string
}

func (e *Error) Error() string {
	var parts []string
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.NaturalKey != "" {
		parts = append(parts, fmt.Sprintf("key=%q", e.NaturalKey))
	}
	if e.Source != "" {
		parts = append(parts, "source="+e.Source)
		parts = append(parts, fmt.Sprintf("pk=%d", e.PK))
	}
	msg := e.Kind.Error()
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, " ") + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}
