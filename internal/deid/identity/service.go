package identity

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hl7deid/hl7deid/internal/deid/names"
)

// Service resolves patient identities and issues their pseudonyms.
// Pseudonym generation draws from the package-level math/rand source,
// which is safe for the concurrent callers the HTTP handlers and the batch
// worker produce.
type Service struct {
	repo  Repository
	names *names.Lists
}

func NewService(repo Repository, lists *names.Lists) *Service {
	return &Service{repo: repo, names: lists}
}

// GetOrStorePatient returns the identity matching any of the supplied
// identifiers, in input order, or persists a new one with all supplied
// identifiers and demographics. The first identifier match wins; demographic
// fields of an existing identity are never updated.
func (s *Service) GetOrStorePatient(ctx context.Context, patientIDs []string, lastName, firstName *string, sex *AdministrativeSex, dob *time.Time) (*PatientIdentity, error) {
	for _, id := range patientIDs {
		if id == "" {
			continue
		}
		pi, err := s.repo.GetByPatientID(ctx, id)
		if err != nil {
			return nil, err
		}
		if pi != nil {
			log.Debug().Strs("patient_ids", patientIDs).Msg("retrieved patient identity")
			return pi, nil
		}
	}

	pi := &PatientIdentity{
		PatientIDs:  patientIDs,
		LastName:    lastName,
		FirstName:   firstName,
		Sex:         sex,
		DateOfBirth: dob,
	}
	err := s.repo.CreateIdentity(ctx, pi)
	if errors.Is(err, ErrDuplicateIdentifier) {
		// Lost a concurrent first-sighting race; adopt the winner.
		for _, id := range patientIDs {
			existing, lookupErr := s.repo.GetByPatientID(ctx, id)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	log.Info().Strs("patient_ids", patientIDs).Msg("registered patient identity")
	return pi, nil
}

// GetOrGeneratePseudonym returns the stored pseudonym for an identity,
// generating and persisting one on first request. The stored record always
// wins; a pseudonym is never regenerated.
func (s *Service) GetOrGeneratePseudonym(ctx context.Context, pi *PatientIdentity) (*PatientPseudonym, error) {
	pp, err := s.repo.GetPseudonym(ctx, pi.ID)
	if err != nil {
		return nil, err
	}
	if pp != nil {
		return pp, nil
	}
	pp, err = s.repo.CreatePseudonym(ctx, s.generatePseudonym(pi))
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("last_name", pp.LastName).
		Str("first_name", pp.FirstName).
		Dur("offset", pp.Offset).
		Msg("generated pseudonym")
	return pp, nil
}

func (s *Service) generatePseudonym(pi *PatientIdentity) *PatientPseudonym {
	given := s.givenNamePool(pi.Sex)
	pp := &PatientPseudonym{
		IdentityID: pi.ID,
		LastName:   s.nameFragment(s.names.English.Family),
		FirstName:  s.nameFragment(given),
		Offset:     s.randomOffset(),
	}
	if pi.DateOfBirth != nil {
		dob := s.shiftDateOfBirth(*pi.DateOfBirth)
		pp.DateOfBirth = &dob
	}
	return pp
}

func (s *Service) givenNamePool(sex *AdministrativeSex) []string {
	switch {
	case sex != nil && *sex == SexMale:
		return s.names.English.Male
	case sex != nil && *sex == SexFemale:
		return s.names.English.Female
	case rand.Intn(2) == 0:
		return s.names.English.Male
	default:
		return s.names.English.Female
	}
}

func (s *Service) nameFragment(pool []string) string {
	return pool[rand.Intn(len(pool))] + strconv.Itoa(rand.Intn(10240))
}

// randomOffset draws the per-patient time shift: a signed magnitude of
// 96 to 480 hours plus an independent -480 to 480 minute component.
func (s *Service) randomOffset() time.Duration {
	hours := 96 + rand.Int63n(385)
	if rand.Intn(2) == 0 {
		hours = -hours
	}
	minutes := rand.Int63n(961) - 480
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
}

// shiftDateOfBirth picks a random date within the original birth year,
// resampled until its day-of-year differs from the original.
func (s *Service) shiftDateOfBirth(orig time.Time) time.Time {
	startOfYear := time.Date(orig.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	days := 365
	if startOfYear.AddDate(1, 0, 0).Sub(startOfYear).Hours() > 365*24 {
		days = 366
	}
	for {
		candidate := startOfYear.AddDate(0, 0, rand.Intn(days))
		if candidate.YearDay() != orig.YearDay() {
			return candidate
		}
	}
}
