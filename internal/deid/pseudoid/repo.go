package pseudoid

import (
	"context"
	"errors"
)

// ErrSubstituteTaken is returned by Create when the generated substitute is
// already in use at the same canonical path. The caller resamples.
var ErrSubstituteTaken = errors.New("pseudoid: substitute already in use at this path")

// Repository persists identifier and control-ID substitutions. The
// uniqueness invariants (one substitute per (path, original), no substitute
// reuse within a path, one pseudo ID per control ID) are enforced by the
// storage layer so concurrent writers cannot fork a mapping.
type Repository interface {
	// Get returns the mapping for (terser, original), or nil when absent.
	Get(ctx context.Context, terser, original string) (*Mapping, error)
	// SubstituteExists reports whether replaced is already a substitute at
	// the given path.
	SubstituteExists(ctx context.Context, terser, replaced string) (bool, error)
	// Create persists a new mapping unless one exists for (terser,
	// original); the stored mapping wins and is returned. Returns
	// ErrSubstituteTaken when the substitute value collides within the path.
	Create(ctx context.Context, m *Mapping) (*Mapping, error)

	// GetControlID returns the stored control-ID mapping, or nil.
	GetControlID(ctx context.Context, controlID string) (*ControlIDMapping, error)
	// CreateControlID persists a control-ID mapping with first-writer-wins
	// semantics and returns the winner.
	CreateControlID(ctx context.Context, m *ControlIDMapping) (*ControlIDMapping, error)
}
