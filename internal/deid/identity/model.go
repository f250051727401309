package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AdministrativeSex is the normalized demographic sex recorded on an
// identity. It only steers which given-name pool a pseudonym draws from.
type AdministrativeSex string

const (
	SexMale   AdministrativeSex = "male"
	SexFemale AdministrativeSex = "female"
	SexOther  AdministrativeSex = "other"
)

// ParseAdministrativeSex maps the HL7 administrative-sex code to the
// normalized value. Empty input stays unset; every unrecognized code maps to
// other.
func ParseAdministrativeSex(code string) *AdministrativeSex {
	if code == "" {
		return nil
	}
	var s AdministrativeSex
	switch strings.ToLower(code) {
	case "m":
		s = SexMale
	case "w", "f":
		s = SexFemale
	default:
		s = SexOther
	}
	return &s
}

// PatientIdentity is one sighted patient: the identifiers the message
// carried plus optional demographics. Immutable once persisted; a later
// sighting with disjoint identifiers becomes a new identity.
type PatientIdentity struct {
	ID          uuid.UUID
	PatientIDs  []string
	LastName    *string
	FirstName   *string
	Sex         *AdministrativeSex
	DateOfBirth *time.Time
	CreatedAt   time.Time
}

// PatientPseudonym is the one substitute record per identity: fake name,
// optionally a shifted date of birth, and the signed time offset applied to
// every date/time field of the patient's messages. Never regenerated.
type PatientPseudonym struct {
	ID          uuid.UUID
	IdentityID  uuid.UUID
	LastName    string
	FirstName   string
	DateOfBirth *time.Time
	Offset      time.Duration
	CreatedAt   time.Time
}
