package actions

import (
	"fmt"

	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate"
)

// TransformAction classifies a raw transaction group and converts it into a
// load action. Matches must be a pure predicate; Transform is only called on
// the transform whose Matches returned true.
type TransformAction interface {
	Name() string
	Matches(tx *extract.Tx) bool
	Transform(tx *extract.Tx) (migrate.LoadAction, error)
}

// Registry is an explicit, ordered set of transform actions. Classification
// tries each in priority order; the first match wins. Overlapping predicates
// are resolved by that order alone, never at runtime.
type Registry struct {
	transforms []TransformAction
}

// NewRegistry builds a registry with the given priority order.
func NewRegistry(transforms ...TransformAction) *Registry {
	return &Registry{transforms: transforms}
}

// DefaultRegistry returns the full action set. Media transforms come before
// the plain file transforms because their predicates are strictly narrower;
// draft-create precedes draft-edit and release-process precedes
// release-update for the same reason.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&MediaFileUploadTransform{},
		&MediaFileDeleteTransform{},
		&FileUploadTransform{},
		&FileDeleteTransform{},
		&DraftCreateTransform{},
		&DraftEditTransform{},
		&HookEventCreateTransform{},
		&HookEventUpdateTransform{},
		&HookRepoUpdateTransform{},
		&ReleaseReceiveTransform{},
		&ReleaseProcessTransform{},
		&ReleaseUpdateTransform{},
	)
}

// Classify implements migrate.Classifier.
func (r *Registry) Classify(tx *extract.Tx) (migrate.LoadAction, error) {
	for _, t := range r.transforms {
		if t.Matches(tx) {
			action, err := t.Transform(tx)
			if err != nil {
				return nil, fmt.Errorf("transform %s: %w", t.Name(), err)
			}
			return action, nil
		}
	}
	return nil, fmt.Errorf("tx %d (lsn %d): %w", tx.ID, tx.LSN, migrate.ErrNoMatch)
}
