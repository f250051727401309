package msgindex

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type repoMem struct {
	mu    sync.Mutex
	items []*IndexedMessage
	seen  map[string]bool
}

func NewRepoMem() Repository {
	return &repoMem{seen: make(map[string]bool)}
}

func (r *repoMem) Insert(_ context.Context, m *IndexedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[m.ControlID] {
		return nil
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()
	r.seen[m.ControlID] = true
	r.items = append(r.items, m)
	return nil
}

func (r *repoMem) Search(_ context.Context, f Filter, limit int) ([]*IndexedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*IndexedMessage
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.items[i]
		if (f.PatientID == "" || f.PatientID == m.PatientID) &&
			(f.CaseID == "" || f.CaseID == m.CaseID) &&
			(f.MsgType == "" || f.MsgType == m.MsgType) &&
			(f.Trigger == "" || f.Trigger == m.Trigger) {
			out = append(out, m)
		}
	}
	return out, nil
}
