package rules

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRulesYAML = `
terser-paths-to-remove:
  - terser: PID-11-1
    desc: street address
terser-paths-to-offset-date-time:
  - terser: PV1-44
    desc: admit date/time
terser-paths-to-replace-id:
  - terser: PID-3(0)-1
    desc: patient identifier
normalized-tersers:
  - from: PID-2-1
    to: PID-2
    desc: id without component
  - from: PID-2
    to: PID-3(0)-1
    desc: legacy patient id
terser-prefixes:
  - msg-type: ORU
    segments: [PID, PV1]
    value: PATIENT_RESULT/.
terser-repetitions:
  - msg-type: ORU
    repetitions:
      - PATIENT_RESULT/ORDER_OBSERVATION*/OBSERVATION*/.OBX
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeRules(t, sampleRulesYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Remove) != 1 || len(s.OffsetDateTime) != 1 || len(s.ReplaceID) != 1 {
		t.Errorf("rule counts = %d/%d/%d", len(s.Remove), len(s.OffsetDateTime), len(s.ReplaceID))
	}
	if len(s.Aliases) != 2 || len(s.Prefixes) != 1 || len(s.Repetitions) != 1 {
		t.Errorf("aliases/prefixes/repetitions = %d/%d/%d", len(s.Aliases), len(s.Prefixes), len(s.Repetitions))
	}
	if s.Prefixes[0].MsgType != "ORU" || s.Prefixes[0].Value != "PATIENT_RESULT/." {
		t.Errorf("prefix = %+v", s.Prefixes[0])
	}
}

func TestLoadRejectsEmptyRuleSet(t *testing.T) {
	if _, err := Load(writeRules(t, "normalized-tersers: []\n")); err == nil {
		t.Fatal("expected error for rule set without transform rules")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeRules(t, "terser-paths-to-remove: {not a list\n")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadRejectsAliasCycle(t *testing.T) {
	cyclic := `
terser-paths-to-remove:
  - terser: PID-11-1
    desc: street address
normalized-tersers:
  - from: PID-2-1
    to: PID-2
    desc: forward
  - from: PID-2
    to: PID-2-1
    desc: closes the loop
`
	if _, err := Load(writeRules(t, cyclic)); err == nil {
		t.Fatal("expected error for alias cycle")
	}
}

func TestNormalize(t *testing.T) {
	s, err := Load(writeRules(t, sampleRulesYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		in   string
		want string
	}{
		{"PID-2-1", "PID-3(0)-1"}, // two-step alias chain
		{"PID-2", "PID-3(0)-1"},
		{"/PID-2-1", "PID-3(0)-1"},  // root marker stripped
		{"/.PID-2-1", "PID-3(0)-1"}, // root marker with search dot
		{"PID-3(0)-1", "PID-3(0)-1"},
		{"PV1-19", "PV1-19"}, // no alias, unchanged
	}
	for _, tt := range tests {
		got, err := s.Normalize(tt.in)
		if err != nil {
			t.Errorf("Normalize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
