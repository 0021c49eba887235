package anonymizer

import "sort"

// Entity types emitted by the recognizers and models. The placeholder written
// into redacted text is "<" + type + ">".
const (
	EntityCPF          = "CPF"
	EntityEmail        = "EMAIL"
	EntityPhone        = "TELEFONE"
	EntityPerson       = "PERSON"
	EntityLocation     = "LOCATION"
	EntityOrganization = "ORGANIZATION"
)

// Entity is one detected span. Start and End are byte offsets into the
// analyzed text.
type Entity struct {
	Type  string  `json:"type"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

func (e Entity) overlaps(o Entity) bool {
	return e.Start < o.End && o.Start < e.End
}

// Placeholder returns the token that replaces the entity in masked text.
func Placeholder(entityType string) string {
	return "<" + entityType + ">"
}

// normalizeType maps the label sets used by NER models onto the entity
// types above.
func normalizeType(label string) string {
	switch label {
	case "PER", "PERSON", "PESSOA":
		return EntityPerson
	case "LOC", "LOCATION", "GPE", "LOCAL":
		return EntityLocation
	case "ORG", "ORGANIZATION", "ORGANIZACAO":
		return EntityOrganization
	}
	return label
}

// resolveOverlaps keeps, among overlapping entities, the one with the higher
// score; ties go to the longer span, then to the earlier one. The result is
// ordered by start offset.
func resolveOverlaps(in []Entity) []Entity {
	ranked := make([]Entity, len(in))
	copy(ranked, in)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return a.Start < b.Start
	})

	kept := make([]Entity, 0, len(ranked))
	for _, e := range ranked {
		clash := false
		for _, k := range kept {
			if e.overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, e)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
