package hl7

// buildGroups assigns the flat segment list to a structural tree according to
// a closed per-(type, trigger) grammar. Only the variants the rule set
// declares are modeled; anything else falls back to a flat tree, which keeps
// root-level terser paths working for unrecognized messages.
func buildGroups(m *Message) *Group {
	switch {
	case m.Type == "ADT" && m.Trigger == "A40":
		return buildADTA40(m.Segments)
	case m.Type == "ORU" && m.Trigger == "R01":
		return buildORUR01(m.Segments)
	default:
		return buildFlat(m.Segments)
	}
}

func buildFlat(segs []*Segment) *Group {
	root := &Group{}
	for _, s := range segs {
		root.Items = append(root.Items, s)
	}
	return root
}

// buildADTA40 models the merge-message shape: header segments at the root,
// then one repeating PATIENT group per PID, each holding the PID and the
// segments that follow it (MRG, PV1).
func buildADTA40(segs []*Segment) *Group {
	root := &Group{}
	var patient *Group
	for _, s := range segs {
		if s.Name == "PID" {
			patient = &Group{Name: "PATIENT"}
			root.Items = append(root.Items, patient)
		}
		if patient != nil {
			patient.Items = append(patient.Items, s)
		} else {
			root.Items = append(root.Items, s)
		}
	}
	return root
}

// buildORUR01 models the observation-result shape:
//
//	PATIENT_RESULT (opened by PID, repeating)
//	  PATIENT               PID PD1 NK1 NTE PV1 PV2
//	  ORDER_OBSERVATION     (opened by ORC/OBR, repeating)
//	    ORC OBR NTE
//	    OBSERVATION         (opened by OBX, repeating) OBX NTE
func buildORUR01(segs []*Segment) *Group {
	root := &Group{}
	var (
		result      *Group
		patient     *Group
		order       *Group
		observation *Group
	)
	for _, s := range segs {
		switch s.Name {
		case "PID":
			result = &Group{Name: "PATIENT_RESULT"}
			patient = &Group{Name: "PATIENT"}
			result.Items = append(result.Items, patient)
			root.Items = append(root.Items, result)
			order, observation = nil, nil
			patient.Items = append(patient.Items, s)
		case "ORC", "OBR":
			if result == nil {
				root.Items = append(root.Items, s)
				continue
			}
			// ORC immediately before OBR belongs to the same order group.
			if order == nil || s.Name == "OBR" && hasSegment(order, "OBR") || s.Name == "ORC" && len(order.Items) > 0 {
				order = &Group{Name: "ORDER_OBSERVATION"}
				result.Items = append(result.Items, order)
			}
			observation = nil
			order.Items = append(order.Items, s)
		case "OBX":
			if order == nil {
				root.Items = append(root.Items, s)
				continue
			}
			observation = &Group{Name: "OBSERVATION"}
			order.Items = append(order.Items, observation)
			observation.Items = append(observation.Items, s)
		default:
			switch {
			case observation != nil:
				observation.Items = append(observation.Items, s)
			case order != nil:
				order.Items = append(order.Items, s)
			case patient != nil:
				patient.Items = append(patient.Items, s)
			default:
				root.Items = append(root.Items, s)
			}
		}
	}
	return root
}

func hasSegment(g *Group, name string) bool {
	for _, it := range g.Items {
		if s, ok := it.(*Segment); ok && s.Name == name {
			return true
		}
	}
	return false
}
