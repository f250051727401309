package msgindex

import (
	"time"

	"github.com/google/uuid"
)

// IndexedMessage is the searchable record of one original message, captured
// before pseudonymization. It stores correlation metadata only, never the
// message body.
type IndexedMessage struct {
	ID              uuid.UUID
	ControlID       string
	PseudoControlID string
	MsgType         string
	Trigger         string
	Structure       string
	PatientID       string
	CaseID          string
	Filename        string
	CreatedAt       time.Time
}

// Filter narrows a search; empty fields match everything.
type Filter struct {
	PatientID string
	CaseID    string
	MsgType   string
	Trigger   string
}
