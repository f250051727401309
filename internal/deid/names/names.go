// Package names loads the substitute name lists used for pseudonym
// generation.
package names

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lists holds the configured substitute name pools. Every category consumed
// by pseudonym generation must be non-empty.
type Lists struct {
	English English `yaml:"english"`
	Street  Street  `yaml:"street"`
}

// English holds given-name pools per administrative sex plus family names.
type English struct {
	Male   []string `yaml:"M"`
	Female []string `yaml:"F"`
	Family []string `yaml:"family"`
}

// Street holds street-name fragments for address substitution.
type Street struct {
	Type      []string `yaml:"type"`
	Secondary []string `yaml:"secondary"`
}

// Load reads name lists from a YAML file. An empty required category is a
// configuration error; callers treat it as startup-fatal.
func Load(path string) (*Lists, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("names: read %s: %w", path, err)
	}
	l := &Lists{}
	if err := yaml.Unmarshal(raw, l); err != nil {
		return nil, fmt.Errorf("names: parse %s: %w", path, err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("names: %s: %w", path, err)
	}
	return l, nil
}

// Validate checks that the categories pseudonym generation draws from are
// all non-empty.
func (l *Lists) Validate() error {
	switch {
	case len(l.English.Male) == 0:
		return fmt.Errorf("male given-name list is empty")
	case len(l.English.Female) == 0:
		return fmt.Errorf("female given-name list is empty")
	case len(l.English.Family) == 0:
		return fmt.Errorf("family-name list is empty")
	}
	return nil
}
