// Package msgindex keeps a searchable metadata index of every original
// message sighted by the pseudonymization pipeline.
package msgindex

import (
	"context"

	"github.com/hl7deid/hl7deid/internal/hl7"
)

const defaultSearchLimit = 100

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IndexMessage records the original message's correlation metadata. Called
// before any field is mutated; idempotent on control ID.
func (s *Service) IndexMessage(ctx context.Context, m *hl7.Message, pseudoControlID, filename string) error {
	rec := &IndexedMessage{
		ControlID:       m.ControlID(),
		PseudoControlID: pseudoControlID,
		MsgType:         m.Type,
		Trigger:         m.Trigger,
		Structure:       m.Structure,
		PatientID:       searchValue(m, ".PID-3(0)-1"),
		CaseID:          searchValue(m, ".PV1-19-1"),
		Filename:        filename,
	}
	return s.repo.Insert(ctx, rec)
}

// Search returns indexed messages matching the filter, newest first.
func (s *Service) Search(ctx context.Context, f Filter) ([]*IndexedMessage, error) {
	return s.repo.Search(ctx, f, defaultSearchLimit)
}

// searchValue reads a terser path anywhere in the message tree, treating
// absence as an empty value.
func searchValue(m *hl7.Message, path string) string {
	v, err := m.Get(path)
	if err != nil {
		return ""
	}
	return v
}
