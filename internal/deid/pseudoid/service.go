package pseudoid

import (
	"context"
	"errors"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hl7deid/hl7deid/internal/deid/rules"
)

// Service issues stable substitutes for arbitrary identifiers and for
// message control IDs. Substitute sampling uses the package-level
// math/rand source, which is safe for concurrent callers.
type Service struct {
	repo  Repository
	rules *rules.Set
}

func NewService(repo Repository, ruleSet *rules.Set) *Service {
	return &Service{repo: repo, rules: ruleSet}
}

// GetOrCreate returns the substitute for (terserPath, originalValue),
// generating and persisting one on first request. The path is alias-resolved
// first, so synonymous spellings share one mapping. Numeric originals get a
// substitute with the same digit count that differs from the original and
// from every other substitute at the same path; everything else gets a UUID.
func (s *Service) GetOrCreate(ctx context.Context, terserPath, originalValue string) (string, error) {
	normalized, err := s.rules.Normalize(terserPath)
	if err != nil {
		return "", err
	}
	existing, err := s.repo.Get(ctx, normalized, originalValue)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ReplacedValue, nil
	}

	for {
		replaced, err := s.generate(ctx, normalized, originalValue)
		if err != nil {
			return "", err
		}
		m, err := s.repo.Create(ctx, &Mapping{
			Terser:        normalized,
			OriginalValue: originalValue,
			ReplacedValue: replaced,
		})
		if errors.Is(err, ErrSubstituteTaken) {
			// Raced another writer onto the same substitute value.
			continue
		}
		if err != nil {
			return "", err
		}
		log.Debug().Str("terser", normalized).Msg("registered identifier substitute")
		return m.ReplacedValue, nil
	}
}

// GetOrCreateControlID returns the pseudonymous control ID for a message,
// generating an opaque token on first sighting. Keyed by the raw control ID,
// never normalized.
func (s *Service) GetOrCreateControlID(ctx context.Context, controlID string) (string, error) {
	existing, err := s.repo.GetControlID(ctx, controlID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.PseudoID, nil
	}
	m, err := s.repo.CreateControlID(ctx, &ControlIDMapping{
		ControlID: controlID,
		PseudoID:  uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	log.Debug().Str("control_id", controlID).Msg("registered message control id")
	return m.PseudoID, nil
}

func (s *Service) generate(ctx context.Context, normalized, original string) (string, error) {
	if !isDigits(original) {
		return uuid.NewString(), nil
	}
	for {
		candidate := s.sameDigitCount(len(original))
		if candidate == original {
			continue
		}
		taken, err := s.repo.SubstituteExists(ctx, normalized, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// sameDigitCount samples a numeral with exactly n digits and no leading
// zero. Built digit by digit so arbitrarily long identifiers never overflow.
func (s *Service) sameDigitCount(n int) string {
	buf := make([]byte, n)
	buf[0] = byte('1' + rand.Intn(9))
	for i := 1; i < n; i++ {
		buf[i] = byte('0' + rand.Intn(10))
	}
	return string(buf)
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
