package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateIdentifier is returned by CreateIdentity when another identity
// already claimed one of the patient identifiers. The caller re-resolves and
// adopts the winner.
var ErrDuplicateIdentifier = errors.New("identity: identifier already registered")

// Repository persists identities and their pseudonyms. Implementations must
// enforce the uniqueness constraints at the storage layer so that concurrent
// first sightings cannot produce two discoverable records for one key.
type Repository interface {
	// GetByPatientID returns the identity registered with the given
	// identifier, or nil when none exists.
	GetByPatientID(ctx context.Context, patientID string) (*PatientIdentity, error)
	// CreateIdentity persists a new identity with all its identifiers.
	// Returns ErrDuplicateIdentifier when an identifier is already taken.
	CreateIdentity(ctx context.Context, pi *PatientIdentity) error
	// GetPseudonym returns the pseudonym for an identity, or nil when none
	// has been generated yet.
	GetPseudonym(ctx context.Context, identityID uuid.UUID) (*PatientPseudonym, error)
	// CreatePseudonym persists a freshly generated pseudonym unless one
	// already exists for the identity; the stored record wins and is
	// returned either way.
	CreatePseudonym(ctx context.Context, pp *PatientPseudonym) (*PatientPseudonym, error)
}
