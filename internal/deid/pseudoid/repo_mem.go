package pseudoid

import (
	"context"
	"sync"
	"time"
)

type pathValue struct{ terser, value string }

type repoMem struct {
	mu          sync.Mutex
	mappings    map[pathValue]*Mapping
	substitutes map[pathValue]bool
	controlIDs  map[string]*ControlIDMapping
}

// NewRepoMem returns an in-memory substitution store with the same
// first-writer-wins semantics as the Postgres one.
func NewRepoMem() Repository {
	return &repoMem{
		mappings:    make(map[pathValue]*Mapping),
		substitutes: make(map[pathValue]bool),
		controlIDs:  make(map[string]*ControlIDMapping),
	}
}

func (r *repoMem) Get(_ context.Context, terser, original string) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mappings[pathValue{terser, original}], nil
}

func (r *repoMem) SubstituteExists(_ context.Context, terser, replaced string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.substitutes[pathValue{terser, replaced}], nil
}

func (r *repoMem) Create(_ context.Context, m *Mapping) (*Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.mappings[pathValue{m.Terser, m.OriginalValue}]; ok {
		return existing, nil
	}
	if r.substitutes[pathValue{m.Terser, m.ReplacedValue}] {
		return nil, ErrSubstituteTaken
	}
	m.CreatedAt = time.Now()
	r.mappings[pathValue{m.Terser, m.OriginalValue}] = m
	r.substitutes[pathValue{m.Terser, m.ReplacedValue}] = true
	return m, nil
}

func (r *repoMem) GetControlID(_ context.Context, controlID string) (*ControlIDMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlIDs[controlID], nil
}

func (r *repoMem) CreateControlID(_ context.Context, m *ControlIDMapping) (*ControlIDMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.controlIDs[m.ControlID]; ok {
		return existing, nil
	}
	m.CreatedAt = time.Now()
	r.controlIDs[m.ControlID] = m
	return m, nil
}
