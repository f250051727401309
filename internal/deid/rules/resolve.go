package rules

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Prober reports whether a concrete terser path is present in a message.
// Satisfied by *hl7.Message.
type Prober interface {
	Exists(path string) (bool, error)
}

// Resolve turns one configured rule into the list of concrete transform
// targets for a message: the message-type prefix is applied first, then any
// matching repetition declarations are expanded against the actual message
// content. Pure with respect to the rule set; the message is only probed.
func (s *Set) Resolve(rule TerserRule, msgType string, msg Prober) []TerserRule {
	return s.expandRepetitions(s.applyPrefix(rule, msgType), msgType, msg)
}

// applyPrefix prepends the structural prefix configured for (msgType,
// segment). The segment code is the first three characters of the rule path;
// the first matching prefix rule wins.
func (s *Set) applyPrefix(rule TerserRule, msgType string) TerserRule {
	if len(rule.Terser) < 3 {
		return rule
	}
	seg := rule.Terser[:3]
	for _, p := range s.Prefixes {
		if p.MsgType != msgType {
			continue
		}
		for _, ps := range p.Segments {
			if ps == seg {
				return TerserRule{Terser: p.Value + rule.Terser, Desc: rule.Desc}
			}
		}
	}
	return rule
}

// expandRepetitions expands a rule whose path runs through repeating
// structure into one rule per repetition combination actually present.
// A repetition template applies when, with its '*' markers removed, it is a
// prefix of the rule's path; the rule's remainder after that prefix is
// carried onto every expansion. Rules with no applicable template pass
// through unchanged.
func (s *Set) expandRepetitions(rule TerserRule, msgType string, msg Prober) []TerserRule {
	group := s.repetitionsFor(msgType)
	if group == nil {
		return []TerserRule{rule}
	}

	path := strings.TrimPrefix(rule.Terser, "/")
	var out []TerserRule
	matched := false
	for _, tpl := range group.Repetitions {
		tpl = strings.TrimPrefix(tpl, "/")
		plain := strings.ReplaceAll(tpl, "*", "")
		if !strings.HasPrefix(path, plain) {
			continue
		}
		matched = true
		suffix := path[len(plain):]
		elems := strings.Split(tpl, "/")
		expandElems(elems, 0, nil, suffix, msg, &out, rule.Desc)
	}
	if !matched {
		return []TerserRule{rule}
	}
	return out
}

// expandElems walks the template elements left to right, substituting each
// '*' marker with indices 0, 1, 2, … for as long as the resulting concrete
// path exists in the message. Inner markers are exhausted per outer index,
// so outer repetitions vary slowest. Probe failures of any kind end the scan
// of the current position.
func expandElems(elems []string, i int, prefix []string, suffix string, msg Prober, out *[]TerserRule, desc string) bool {
	if i == len(elems) {
		full := strings.Join(prefix, "/") + suffix
		ok, err := msg.Exists(full)
		if err != nil {
			log.Warn().Err(err).Str("terser", full).Msg("repetition probe failed, treating as absent")
			return false
		}
		if !ok {
			return false
		}
		*out = append(*out, TerserRule{Terser: full, Desc: desc})
		return true
	}

	elem := elems[i]
	if !strings.HasSuffix(elem, "*") {
		return expandElems(elems, i+1, append(prefix, elem), suffix, msg, out, desc)
	}

	base := strings.TrimSuffix(elem, "*")
	any := false
	for rep := 0; ; rep++ {
		concrete := base + "(" + strconv.Itoa(rep) + ")"
		if !expandElems(elems, i+1, append(prefix, concrete), suffix, msg, out, desc) {
			break
		}
		any = true
	}
	return any
}

func (s *Set) repetitionsFor(msgType string) *RepetitionGroup {
	for i := range s.Repetitions {
		if s.Repetitions[i].MsgType == msgType {
			return &s.Repetitions[i]
		}
	}
	return nil
}
