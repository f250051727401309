package names

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleNamesYAML = `
english:
  M: [Arthur, Ford, Zaphod]
  F: [Trillian, Fenchurch]
  family: [Dent, Prefect, Beeblebrox]
street:
  type: [Ave., St.]
  secondary: [North, South]
`

func writeNames(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "names.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write names: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	l, err := Load(writeNames(t, sampleNamesYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(l.English.Male) != 3 || len(l.English.Female) != 2 || len(l.English.Family) != 3 {
		t.Errorf("list sizes = %d/%d/%d", len(l.English.Male), len(l.English.Female), len(l.English.Family))
	}
	if l.English.Male[0] != "Arthur" || l.English.Family[2] != "Beeblebrox" {
		t.Errorf("unexpected content: %+v", l.English)
	}
}

func TestLoadRejectsEmptyCategory(t *testing.T) {
	missing := `
english:
  M: [Arthur]
  F: []
  family: [Dent]
`
	if _, err := Load(writeNames(t, missing)); err == nil {
		t.Fatal("expected error for empty female name list")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeNames(t, "english: [broken\n")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
