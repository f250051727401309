// Package rules loads the declarative pseudonymization rule set and resolves
// each rule into the concrete terser paths to transform inside one message.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TerserRule is one configured transform target: a terser path expression and
// a human-readable description carried into logs and removal markers.
type TerserRule struct {
	Terser string `yaml:"terser"`
	Desc   string `yaml:"desc"`
}

// Alias is a directed path rewrite. Aliases may chain (A to B, B to C) and
// are resolved to a fixed point, so that synonymous spellings of one field
// share a single stored substitute.
type Alias struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Desc string `yaml:"desc"`
}

// Prefix prepends a structural prefix to rules targeting one of the listed
// segment codes when the message is of the given type.
type Prefix struct {
	MsgType  string   `yaml:"msg-type"`
	Segments []string `yaml:"segments"`
	Value    string   `yaml:"value"`
}

// RepetitionGroup declares, per message type, the repeating structural paths
// of that type. A '*' suffix marks a repeating element, e.g.
// "PATIENT_RESULT/ORDER_OBSERVATION*/OBSERVATION*".
type RepetitionGroup struct {
	MsgType     string   `yaml:"msg-type"`
	Repetitions []string `yaml:"repetitions"`
}

// Set is the full rule configuration, loaded once at startup.
type Set struct {
	Remove         []TerserRule      `yaml:"terser-paths-to-remove"`
	OffsetDateTime []TerserRule      `yaml:"terser-paths-to-offset-date-time"`
	ReplaceID      []TerserRule      `yaml:"terser-paths-to-replace-id"`
	Aliases        []Alias           `yaml:"normalized-tersers"`
	Prefixes       []Prefix          `yaml:"terser-prefixes"`
	Repetitions    []RepetitionGroup `yaml:"terser-repetitions"`
}

// Load reads and validates a rule set from a YAML file. Malformed YAML, an
// empty rule set, or an alias cycle is a configuration error; callers treat
// it as startup-fatal.
func Load(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	s := &Set{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("rules: %s: %w", path, err)
	}
	return s, nil
}

// Validate checks structural requirements that would otherwise surface as
// per-message failures: at least one transform rule, complete rule entries,
// and an acyclic alias graph.
func (s *Set) Validate() error {
	if len(s.Remove)+len(s.OffsetDateTime)+len(s.ReplaceID) == 0 {
		return fmt.Errorf("no transform rules configured")
	}
	for _, group := range [][]TerserRule{s.Remove, s.OffsetDateTime, s.ReplaceID} {
		for _, r := range group {
			if strings.TrimSpace(r.Terser) == "" {
				return fmt.Errorf("rule with empty terser path (desc %q)", r.Desc)
			}
		}
	}
	for _, p := range s.Prefixes {
		if p.MsgType == "" || len(p.Segments) == 0 {
			return fmt.Errorf("prefix rule %+v missing msg-type or segments", p)
		}
	}
	// Resolving every alias source proves the graph reaches a fixed point.
	for _, a := range s.Aliases {
		if _, err := s.Normalize(a.From); err != nil {
			return err
		}
	}
	return nil
}

// Normalize strips the leading root marker ("/" optionally followed by ".")
// and rewrites the path through the alias graph until no alias matches.
// Iteration is bounded by the alias count; exceeding the bound means the
// configuration contains a cycle.
func (s *Set) Normalize(path string) (string, error) {
	cur := strings.TrimPrefix(path, "/")
	if cur != path {
		cur = strings.TrimPrefix(cur, ".")
	}
	for i := 0; i <= len(s.Aliases); i++ {
		next, ok := s.aliasFor(cur)
		if !ok {
			return cur, nil
		}
		cur = next
	}
	return "", fmt.Errorf("alias cycle detected resolving %q", path)
}

func (s *Set) aliasFor(path string) (string, bool) {
	for _, a := range s.Aliases {
		if a.From == path {
			return a.To, true
		}
	}
	return "", false
}
