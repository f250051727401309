// Package engine orchestrates the pseudonymization of one message: control-ID
// substitution, identity resolution, pseudonym application, and the
// configured remove/offset/replace transforms.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hl7deid/hl7deid/internal/deid/identity"
	"github.com/hl7deid/hl7deid/internal/deid/pseudoid"
	"github.com/hl7deid/hl7deid/internal/deid/rules"
	"github.com/hl7deid/hl7deid/internal/hl7"
)

// Indexer records the original message before it is mutated. Optional.
type Indexer interface {
	IndexMessage(ctx context.Context, m *hl7.Message, pseudoControlID, filename string) error
}

// Engine wires the rule set to the identity and substitution services.
type Engine struct {
	rules      *rules.Set
	identities *identity.Service
	pseudoIDs  *pseudoid.Service
	indexer    Indexer
}

// Result is the outcome of one successful pseudonymization run.
type Result struct {
	Message         *hl7.Message
	ControlID       string
	PseudoControlID string
}

func New(ruleSet *rules.Set, identities *identity.Service, pseudoIDs *pseudoid.Service, indexer Indexer) *Engine {
	return &Engine{rules: ruleSet, identities: identities, pseudoIDs: pseudoIDs, indexer: indexer}
}

// ProcessMessage parses and pseudonymizes one raw message. The message is
// processed to completion or the whole operation fails; on failure the
// original content is never part of the returned error.
func (e *Engine) ProcessMessage(ctx context.Context, raw []byte, filename string) (*Result, error) {
	m, err := hl7.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("engine: parse: %w", err)
	}

	controlID := m.ControlID()
	pseudoID, err := e.pseudoIDs.GetOrCreateControlID(ctx, controlID)
	if err != nil {
		return nil, fmt.Errorf("engine: control id: %w", err)
	}

	if e.indexer != nil {
		if err := e.indexer.IndexMessage(ctx, m, pseudoID, filename); err != nil {
			log.Warn().Err(err).Str("control_id", controlID).Msg("message indexing failed")
		}
	}

	if err := m.Set("MSH-10", pseudoID); err != nil {
		return nil, fmt.Errorf("engine: set control id: %w", err)
	}

	pidPath := e.dispatch(m)
	pseudonym, err := e.applyIdentity(ctx, m, pidPath)
	if err != nil {
		return nil, err
	}
	if err := e.applyRules(ctx, m, pseudonym.Offset); err != nil {
		return nil, err
	}

	return &Result{Message: m, ControlID: controlID, PseudoControlID: pseudoID}, nil
}

// dispatch selects the identity-bearing PID location for the message's
// structural variant. Unrecognized variants degrade to a root-level PID with
// a warning instead of failing the message.
func (e *Engine) dispatch(m *hl7.Message) string {
	switch m.Type {
	case "ADT":
		if m.Trigger == "A40" || m.Structure == "ADT_A40" {
			return "PATIENT/.PID"
		}
		return "PID"
	case "ORU":
		if m.Trigger == "R01" {
			return "PATIENT_RESULT/.PID"
		}
	}
	log.Warn().
		Str("msg_type", m.Type).
		Str("trigger", m.Trigger).
		Msg("unsupported message structure, the result may contain compromising PII")
	return "PID"
}

// applyIdentity extracts the patient from the PID segment, resolves the
// stored identity and pseudonym, and writes the substitute demographics back.
func (e *Engine) applyIdentity(ctx context.Context, m *hl7.Message, pidPath string) (*identity.PatientPseudonym, error) {
	patientIDs, err := e.patientIDList(m, pidPath)
	if err != nil {
		return nil, err
	}
	lastName, err := optionalValue(m, pidPath+"-5-1")
	if err != nil {
		return nil, err
	}
	firstName, err := optionalValue(m, pidPath+"-5-2")
	if err != nil {
		return nil, err
	}
	sexCode, err := m.Get(pidPath + "-8")
	if err != nil && !isAbsence(err) {
		return nil, fmt.Errorf("engine: read administrative sex: %w", err)
	}
	dob, err := e.dateOfBirth(m, pidPath)
	if err != nil {
		return nil, err
	}

	pi, err := e.identities.GetOrStorePatient(ctx, patientIDs, lastName, firstName, identity.ParseAdministrativeSex(sexCode), dob)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve identity: %w", err)
	}
	pseudonym, err := e.identities.GetOrGeneratePseudonym(ctx, pi)
	if err != nil {
		return nil, fmt.Errorf("engine: pseudonym: %w", err)
	}

	if err := m.Set(pidPath+"-5-1", pseudonym.LastName); err != nil {
		return nil, fmt.Errorf("engine: apply last name: %w", err)
	}
	if err := m.Set(pidPath+"-5-2", pseudonym.FirstName); err != nil {
		return nil, fmt.Errorf("engine: apply first name: %w", err)
	}
	if dob != nil && pseudonym.DateOfBirth != nil {
		if err := m.Set(pidPath+"-7", pseudonym.DateOfBirth.Format("20060102")); err != nil {
			return nil, fmt.Errorf("engine: apply date of birth: %w", err)
		}
	}
	return pseudonym, nil
}

// patientIDList collects the ID-number component of every PID-3 repetition.
func (e *Engine) patientIDList(m *hl7.Message, pidPath string) ([]string, error) {
	var ids []string
	for rep := 0; ; rep++ {
		v, err := m.Get(fmt.Sprintf("%s-3(%d)-1", pidPath, rep))
		if errors.Is(err, hl7.ErrRepetitionNotFound) {
			return ids, nil
		}
		if errors.Is(err, hl7.ErrSegmentNotFound) {
			return nil, fmt.Errorf("engine: identity segment %s not found", pidPath)
		}
		if err != nil {
			return nil, fmt.Errorf("engine: read patient ids: %w", err)
		}
		if v != "" {
			ids = append(ids, v)
		}
	}
}

func (e *Engine) dateOfBirth(m *hl7.Message, pidPath string) (*time.Time, error) {
	v, err := m.Get(pidPath + "-7")
	if err != nil || v == "" {
		return nil, nil
	}
	if len(v) > 8 {
		v = v[:8]
	}
	dob, err := time.Parse("20060102", v)
	if err != nil {
		return nil, fmt.Errorf("engine: date of birth %q: %w", v, err)
	}
	return &dob, nil
}

func optionalValue(m *hl7.Message, path string) (*string, error) {
	v, err := m.Get(path)
	if err != nil {
		if errors.Is(err, hl7.ErrSegmentNotFound) || errors.Is(err, hl7.ErrRepetitionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if v == "" {
		return nil, nil
	}
	return &v, nil
}
