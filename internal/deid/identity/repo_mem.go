package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type repoMem struct {
	mu          sync.Mutex
	byPatientID map[string]*PatientIdentity
	pseudonyms  map[uuid.UUID]*PatientPseudonym
}

// NewRepoMem returns an in-memory identity repository with the same
// insert-if-absent semantics as the Postgres one. Used in tests and for
// database-less one-shot runs.
func NewRepoMem() Repository {
	return &repoMem{
		byPatientID: make(map[string]*PatientIdentity),
		pseudonyms:  make(map[uuid.UUID]*PatientPseudonym),
	}
}

func (r *repoMem) GetByPatientID(_ context.Context, patientID string) (*PatientIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPatientID[patientID], nil
}

func (r *repoMem) CreateIdentity(_ context.Context, pi *PatientIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range pi.PatientIDs {
		if _, exists := r.byPatientID[id]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateIdentifier, id)
		}
	}
	if pi.ID == uuid.Nil {
		pi.ID = uuid.New()
	}
	pi.CreatedAt = time.Now()
	for _, id := range pi.PatientIDs {
		r.byPatientID[id] = pi
	}
	return nil
}

func (r *repoMem) GetPseudonym(_ context.Context, identityID uuid.UUID) (*PatientPseudonym, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pseudonyms[identityID], nil
}

func (r *repoMem) CreatePseudonym(_ context.Context, pp *PatientPseudonym) (*PatientPseudonym, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pseudonyms[pp.IdentityID]; ok {
		return existing, nil
	}
	if pp.ID == uuid.Nil {
		pp.ID = uuid.New()
	}
	pp.CreatedAt = time.Now()
	r.pseudonyms[pp.IdentityID] = pp
	return pp, nil
}
