package pseudoid

import "time"

// Mapping is one stored identifier substitution, keyed by the alias-resolved
// terser path and the original value. Immutable once persisted.
type Mapping struct {
	Terser        string
	OriginalValue string
	ReplacedValue string
	CreatedAt     time.Time
}

// ControlIDMapping is the 1:1 substitution of a message control ID.
type ControlIDMapping struct {
	ControlID string
	PseudoID  string
	CreatedAt time.Time
}
