package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hl7deid/hl7deid/internal/deid/rules"
	"github.com/hl7deid/hl7deid/internal/hl7"
)

// applyRules resolves every configured rule against the message and applies
// the three operation kinds. Structural absence is tolerated per target;
// date values that match an offset rule but cannot be shifted fail the
// whole message.
func (e *Engine) applyRules(ctx context.Context, m *hl7.Message, offset time.Duration) error {
	err := e.applyKind(m, e.rules.Remove, "remove", func(value, desc, path string) (string, error) {
		return "**REMOVED** (" + desc + ")", nil
	})
	if err != nil {
		return err
	}

	err = e.applyKind(m, e.rules.OffsetDateTime, "offset", func(value, desc, path string) (string, error) {
		shifted, err := offsetTimestamp(value, offset)
		if err != nil {
			return "", fmt.Errorf("engine: offset %s: %w", path, err)
		}
		return shifted, nil
	})
	if err != nil {
		return err
	}

	return e.applyKind(m, e.rules.ReplaceID, "replace", func(value, desc, path string) (string, error) {
		return e.pseudoIDs.GetOrCreate(ctx, path, value)
	})
}

func (e *Engine) applyKind(m *hl7.Message, ruleList []rules.TerserRule, op string, transform func(value, desc, path string) (string, error)) error {
	for _, rule := range ruleList {
		for _, target := range e.rules.Resolve(rule, m.Type, m) {
			value, err := m.Get(target.Terser)
			if err != nil {
				if isAbsence(err) {
					log.Debug().Str("terser", target.Terser).Msg("rule target absent, skipped")
					continue
				}
				return fmt.Errorf("engine: read %s: %w", target.Terser, err)
			}
			if value == "" {
				continue
			}
			replacement, err := transform(value, target.Desc, target.Terser)
			if err != nil {
				return err
			}
			if err := m.Set(target.Terser, replacement); err != nil {
				if isAbsence(err) {
					log.Debug().Str("terser", target.Terser).Msg("rule target vanished, skipped")
					continue
				}
				return fmt.Errorf("engine: write %s: %w", target.Terser, err)
			}
			log.Debug().Str("op", op).Str("terser", target.Terser).Str("desc", target.Desc).Msg("applied rule")
		}
	}
	return nil
}

// offsetTimestamp shifts an HL7 date or date/time value by the patient's
// offset, re-rendered in the original precision. Supported lengths are 8
// (date), 12, and 14 digits; anything else is a hard error because a matched
// value that cannot be shifted would leak the original instant.
func offsetTimestamp(value string, offset time.Duration) (string, error) {
	var layout string
	switch len(value) {
	case 8:
		layout = "20060102"
	case 12:
		layout = "200601021504"
	case 14:
		layout = "20060102150405"
	default:
		return "", fmt.Errorf("unsupported date/time length %d", len(value))
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return "", err
	}
	return t.Add(offset).Format(layout), nil
}

func isAbsence(err error) bool {
	return errors.Is(err, hl7.ErrSegmentNotFound) || errors.Is(err, hl7.ErrRepetitionNotFound)
}
