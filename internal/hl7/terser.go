package hl7

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for the two "absent" cases a caller is expected to
// tolerate: the target segment (or group) does not occur in this message at
// all, or it occurs but not at the requested repetition index. Anything else
// is a real failure.
var (
	ErrSegmentNotFound    = errors.New("hl7: segment not found")
	ErrRepetitionNotFound = errors.New("hl7: repetition not found")
)

// pathElem is one slash-separated element of a terser path.
type pathElem struct {
	name   string
	rep    int  // zero-based; 0 when unspecified
	search bool // ".NAME": find anywhere under the current group
}

// fieldSpec addresses a location inside a segment, 1-based per HL7
// convention except the zero-based repetition index.
type fieldSpec struct {
	field int
	rep   int
	comp  int
	sub   int
}

type terserPath struct {
	groups []pathElem
	seg    pathElem
	spec   *fieldSpec // nil when the path addresses the segment itself
}

// Get resolves a terser path and returns the value at the addressed
// location. An existing segment with the field, component, or subcomponent
// simply unset yields "" with no error; a missing segment or an
// out-of-range repetition yields ErrSegmentNotFound/ErrRepetitionNotFound.
func (m *Message) Get(path string) (string, error) {
	tp, err := parsePath(path)
	if err != nil {
		return "", err
	}
	seg, err := m.findSegment(tp)
	if err != nil {
		return "", err
	}
	if tp.spec == nil {
		return seg.Name, nil
	}
	f := seg.field(tp.spec.field)
	if f == nil {
		if tp.spec.rep > 0 {
			return "", fmt.Errorf("%w: %s has no repetition %d", ErrRepetitionNotFound, path, tp.spec.rep)
		}
		return "", nil
	}
	if tp.spec.rep >= len(f.Reps) {
		return "", fmt.Errorf("%w: %s has only %d repetition(s)", ErrRepetitionNotFound, path, len(f.Reps))
	}
	return f.value(tp.spec.rep, tp.spec.comp-1, tp.spec.sub-1), nil
}

// Set resolves a terser path and writes value at the addressed location,
// growing fields, repetitions, components, and subcomponents as needed.
// Missing segments and out-of-range group repetitions are reported with the
// same sentinel errors as Get.
func (m *Message) Set(path, value string) error {
	tp, err := parsePath(path)
	if err != nil {
		return err
	}
	if tp.spec == nil {
		return fmt.Errorf("hl7: path %q does not address a field", path)
	}
	seg, err := m.findSegment(tp)
	if err != nil {
		return err
	}

	for len(seg.Fields) < tp.spec.field {
		seg.Fields = append(seg.Fields, &Field{Reps: [][][]string{{{""}}}})
	}
	f := seg.Fields[tp.spec.field-1]
	for len(f.Reps) <= tp.spec.rep {
		f.Reps = append(f.Reps, [][]string{{""}})
	}
	rep := f.Reps[tp.spec.rep]
	for len(rep) < tp.spec.comp {
		rep = append(rep, []string{""})
	}
	comp := rep[tp.spec.comp-1]
	for len(comp) < tp.spec.sub {
		comp = append(comp, "")
	}
	comp[tp.spec.sub-1] = value
	rep[tp.spec.comp-1] = comp
	f.Reps[tp.spec.rep] = rep
	return nil
}

// Exists reports whether the path resolves to a present location. It is the
// probe the repetition expander uses: "" values count as present, the two
// absence errors count as not present, and any other error is surfaced.
func (m *Message) Exists(path string) (bool, error) {
	_, err := m.Get(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSegmentNotFound), errors.Is(err, ErrRepetitionNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (m *Message) findSegment(tp *terserPath) (*Segment, error) {
	cur := m.Root
	for _, g := range tp.groups {
		next, total := nthChildGroup(cur, g.name, g.rep)
		if next == nil {
			if total == 0 {
				return nil, fmt.Errorf("%w: group %s", ErrSegmentNotFound, g.name)
			}
			return nil, fmt.Errorf("%w: group %s has only %d repetition(s), want index %d",
				ErrRepetitionNotFound, g.name, total, g.rep)
		}
		cur = next
	}

	var seg *Segment
	var total int
	if tp.seg.search {
		seg, total = searchSegment(cur, tp.seg.name, tp.seg.rep)
	} else {
		seg, total = directSegment(cur, tp.seg.name, tp.seg.rep)
	}
	if seg == nil {
		if total == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, tp.seg.name)
		}
		return nil, fmt.Errorf("%w: segment %s has only %d occurrence(s), want index %d",
			ErrRepetitionNotFound, tp.seg.name, total, tp.seg.rep)
	}
	return seg, nil
}

// nthChildGroup returns the rep-th direct child group named name and the
// total count of such children.
func nthChildGroup(g *Group, name string, rep int) (*Group, int) {
	var found *Group
	n := 0
	for _, it := range g.Items {
		child, ok := it.(*Group)
		if !ok || child.Name != name {
			continue
		}
		if n == rep {
			found = child
		}
		n++
	}
	return found, n
}

// directSegment returns the rep-th segment named name among the direct
// children of g.
func directSegment(g *Group, name string, rep int) (*Segment, int) {
	var found *Segment
	n := 0
	for _, it := range g.Items {
		seg, ok := it.(*Segment)
		if !ok || seg.Name != name {
			continue
		}
		if n == rep {
			found = seg
		}
		n++
	}
	return found, n
}

// searchSegment walks the subtree rooted at g depth-first in item order and
// returns the rep-th segment named name.
func searchSegment(g *Group, name string, rep int) (*Segment, int) {
	var found *Segment
	n := 0
	var walk func(*Group)
	walk = func(cur *Group) {
		for _, it := range cur.Items {
			switch v := it.(type) {
			case *Segment:
				if v.Name == name {
					if n == rep {
						found = v
					}
					n++
				}
			case *Group:
				walk(v)
			}
		}
	}
	walk(g)
	return found, n
}

// parsePath parses a terser path of the form
//
//	[/]GROUP(rep)/…/[.]SEG(rep)-field(rep)-component-subcomponent
//
// A leading "/" (the root marker) is ignored. Component and subcomponent
// default to 1 when omitted; repetition indices default to 0.
func parsePath(path string) (*terserPath, error) {
	p := strings.TrimPrefix(strings.TrimSpace(path), "/")
	if p == "" {
		return nil, fmt.Errorf("hl7: empty terser path")
	}

	parts := strings.Split(p, "/")
	tp := &terserPath{}
	for i, part := range parts {
		last := i == len(parts)-1
		elem := pathElem{}
		if strings.HasPrefix(part, ".") {
			elem.search = true
			part = part[1:]
		}

		if last {
			name, spec, err := parseSegmentSpec(part)
			if err != nil {
				return nil, fmt.Errorf("hl7: path %q: %w", path, err)
			}
			elem.name, elem.rep = name.name, name.rep
			tp.seg = elem
			tp.spec = spec
			break
		}

		name, rep, err := splitRep(part)
		if err != nil {
			return nil, fmt.Errorf("hl7: path %q: %w", path, err)
		}
		if elem.search {
			return nil, fmt.Errorf("hl7: path %q: search marker on group %q", path, part)
		}
		elem.name, elem.rep = name, rep
		tp.groups = append(tp.groups, elem)
	}
	if tp.seg.name == "" {
		return nil, fmt.Errorf("hl7: path %q has no segment element", path)
	}
	return tp, nil
}

// parseSegmentSpec parses "SEG(rep)-field(rep)-comp-sub"; everything after
// the segment name is optional.
func parseSegmentSpec(part string) (pathElem, *fieldSpec, error) {
	elem := pathElem{}
	segPart := part
	rest := ""
	if idx := strings.IndexByte(part, '-'); idx >= 0 {
		segPart, rest = part[:idx], part[idx+1:]
	}

	name, rep, err := splitRep(segPart)
	if err != nil {
		return elem, nil, err
	}
	if name == "" {
		return elem, nil, fmt.Errorf("missing segment name in %q", part)
	}
	elem.name, elem.rep = name, rep
	if rest == "" {
		return elem, nil, nil
	}

	spec := &fieldSpec{rep: 0, comp: 1, sub: 1}
	indices := strings.Split(rest, "-")
	if len(indices) > 3 {
		return elem, nil, fmt.Errorf("too many indices in %q", part)
	}

	fieldPart, fieldRep, err := splitRep(indices[0])
	if err != nil {
		return elem, nil, err
	}
	if spec.field, err = strconv.Atoi(fieldPart); err != nil || spec.field < 1 {
		return elem, nil, fmt.Errorf("invalid field index %q", indices[0])
	}
	spec.rep = fieldRep

	if len(indices) > 1 {
		if spec.comp, err = strconv.Atoi(indices[1]); err != nil || spec.comp < 1 {
			return elem, nil, fmt.Errorf("invalid component index %q", indices[1])
		}
	}
	if len(indices) > 2 {
		if spec.sub, err = strconv.Atoi(indices[2]); err != nil || spec.sub < 1 {
			return elem, nil, fmt.Errorf("invalid subcomponent index %q", indices[2])
		}
	}
	return elem, spec, nil
}

// splitRep splits "NAME(n)" into its name and zero-based repetition index.
func splitRep(s string) (string, int, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, 0, nil
	}
	if !strings.HasSuffix(s, ")") {
		return "", 0, fmt.Errorf("unbalanced repetition index in %q", s)
	}
	rep, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil || rep < 0 {
		return "", 0, fmt.Errorf("invalid repetition index in %q", s)
	}
	return s[:open], rep, nil
}
