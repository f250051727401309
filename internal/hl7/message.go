package hl7

import (
	"fmt"
	"strings"
)

// Separators holds the delimiter characters of a message, taken from MSH-1
// and MSH-2 at parse time.
type Separators struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultSeparators are the standard HL7v2 encoding characters (|^~\&).
func DefaultSeparators() Separators {
	return Separators{Field: '|', Component: '^', Repetition: '~', Escape: '\\', Subcomponent: '&'}
}

// Message is a parsed HL7v2 message. Segments holds the wire order; Root is
// the group tree built from the per-message-type grammar so that terser paths
// like PATIENT_RESULT/ORDER_OBSERVATION(1)/.OBX-5-1 can be resolved.
type Message struct {
	Type      string // MSH-9-1, e.g. "ADT"
	Trigger   string // MSH-9-2, e.g. "A01"
	Structure string // MSH-9-3, e.g. "ADT_A01" (may be empty)
	Segments  []*Segment
	Root      *Group
	Seps      Separators
}

// Segment is one segment line. For MSH, Fields[0] is the field separator
// itself (MSH-1) and Fields[1] the raw encoding characters (MSH-2), matching
// HL7 field numbering so that Fields[n-1] is always field n.
type Segment struct {
	Name   string
	Fields []*Field
}

// Field models repetitions (~), components (^) and subcomponents (&) as
// nested string slices: Reps[rep][component][subcomponent].
type Field struct {
	Reps [][][]string
}

// Group is a node in the structural tree. Items preserves the relative order
// of child segments and subgroups, which the `.SEG` search form depends on.
type Group struct {
	Name  string
	Items []Item
}

// Item is either a *Segment or a *Group.
type Item interface{ item() }

func (*Segment) item() {}
func (*Group) item()   {}

// Parse decodes raw pipe-delimited HL7v2 text. It accepts \r, \n, and \r\n
// segment terminators and requires the first segment to be MSH.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimRight(line, " \t"); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") || len(lines[0]) < 9 {
		return nil, fmt.Errorf("hl7: first segment must be a complete MSH")
	}

	seps := Separators{
		Field:        lines[0][3],
		Component:    lines[0][4],
		Repetition:   lines[0][5],
		Escape:       lines[0][6],
		Subcomponent: lines[0][7],
	}

	msg := &Message{Seps: seps}
	for i, line := range lines {
		seg, err := parseSegment(line, seps)
		if err != nil {
			return nil, fmt.Errorf("hl7: segment %d: %w", i+1, err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msgType := msg.Segments[0].component(9, 1)
	msg.Type = msgType
	msg.Trigger = msg.Segments[0].component(9, 2)
	msg.Structure = msg.Segments[0].component(9, 3)
	msg.Root = buildGroups(msg)

	return msg, nil
}

func parseSegment(line string, seps Separators) (*Segment, error) {
	if len(line) < 3 {
		return nil, fmt.Errorf("segment too short (%d bytes)", len(line))
	}

	seg := &Segment{Name: line[:3]}

	if seg.Name == "MSH" {
		// MSH-1 is the field separator character, MSH-2 the encoding
		// characters; neither may be split on component separators.
		seg.Fields = append(seg.Fields,
			literalField(string(seps.Field)),
			literalField(line[4:8]))
		if len(line) > 9 {
			for _, f := range strings.Split(line[9:], string(seps.Field)) {
				seg.Fields = append(seg.Fields, parseField(f, seps))
			}
		}
		return seg, nil
	}

	rest, ok := strings.CutPrefix(line, seg.Name+string(seps.Field))
	if !ok {
		if line == seg.Name {
			return seg, nil
		}
		return nil, fmt.Errorf("segment %q: missing field separator", seg.Name)
	}
	for _, f := range strings.Split(rest, string(seps.Field)) {
		seg.Fields = append(seg.Fields, parseField(f, seps))
	}
	return seg, nil
}

func parseField(raw string, seps Separators) *Field {
	f := &Field{}
	for _, rep := range strings.Split(raw, string(seps.Repetition)) {
		var comps [][]string
		for _, comp := range strings.Split(rep, string(seps.Component)) {
			comps = append(comps, strings.Split(comp, string(seps.Subcomponent)))
		}
		f.Reps = append(f.Reps, comps)
	}
	return f
}

// literalField wraps a raw value as a single-repetition field that encodes
// back verbatim (used for MSH-1 and MSH-2).
func literalField(v string) *Field {
	return &Field{Reps: [][][]string{{{v}}}}
}

// Encode renders the message back to pipe-delimited text with \r segment
// terminators, preserving wire segment order.
func Encode(m *Message) string {
	var b strings.Builder
	for i, seg := range m.Segments {
		if i > 0 {
			b.WriteByte('\r')
		}
		encodeSegment(&b, seg, m.Seps)
	}
	return b.String()
}

func encodeSegment(b *strings.Builder, seg *Segment, seps Separators) {
	b.WriteString(seg.Name)
	fields := seg.Fields
	if seg.Name == "MSH" {
		// "MSH" + MSH-1 + MSH-2 + separator + remaining fields.
		if len(fields) == 0 {
			return
		}
		b.WriteString(fields[0].String(seps))
		if len(fields) > 1 {
			b.WriteString(fields[1].String(seps))
		}
		fields = fields[2:]
	}
	for _, f := range fields {
		b.WriteByte(seps.Field)
		b.WriteString(f.String(seps))
	}
}

// String renders a field with its repetition, component, and subcomponent
// separators.
func (f *Field) String(seps Separators) string {
	reps := make([]string, len(f.Reps))
	for i, rep := range f.Reps {
		comps := make([]string, len(rep))
		for j, comp := range rep {
			comps[j] = strings.Join(comp, string(seps.Subcomponent))
		}
		reps[i] = strings.Join(comps, string(seps.Component))
	}
	return strings.Join(reps, string(seps.Repetition))
}

// value returns the component value at (rep, comp, sub), all zero-based,
// or "" when the coordinate is not populated.
func (f *Field) value(rep, comp, sub int) string {
	if f == nil || rep >= len(f.Reps) {
		return ""
	}
	r := f.Reps[rep]
	if comp >= len(r) {
		return ""
	}
	c := r[comp]
	if sub >= len(c) {
		return ""
	}
	return c[sub]
}

// field returns the 1-based field, or nil if absent.
func (s *Segment) field(n int) *Field {
	if n < 1 || n > len(s.Fields) {
		return nil
	}
	return s.Fields[n-1]
}

// component returns the first-repetition component value of a field,
// 1-based indices, "" when absent.
func (s *Segment) component(field, comp int) string {
	f := s.field(field)
	if f == nil {
		return ""
	}
	return f.value(0, comp-1, 0)
}

// ControlID returns MSH-10.
func (m *Message) ControlID() string {
	return m.Segments[0].component(10, 1)
}
