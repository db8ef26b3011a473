package detect

import (
	"sort"
	"strings"
	"unicode"
)

// Entity is the resolved unit: all mentions of one normalized value of
// one type, positions preserved for evidence retrieval.
type Entity struct {
	EntityType    string  `json:"entity_type"`
	Value         string  `json:"value"` // normalized
	MaxConfidence float64 `json:"max_confidence"`
	Mentions      []Span  `json:"mentions"`
}

// normalizeValue folds formatting differences so "123-45-6789" and
// "123 45 6789" resolve to one entity.
func normalizeValue(entityType, v string) string {
	switch entityType {
	case "SSN", "CREDIT_CARD", "PHONE", "ABA_ROUTING", "NPI", "MRN":
		return digitsOnly(v)
	case "IBAN", "VIN":
		return strings.ToUpper(strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) || r == '-' {
				return -1
			}
			return r
		}, v))
	case "EMAIL":
		return strings.ToLower(strings.TrimSpace(v))
	default:
		return strings.ToLower(strings.Join(strings.Fields(v), " "))
	}
}

// Resolve groups spans into entities by (type, normalized value).
// Output is ordered by first mention for determinism.
func Resolve(spans []Span) []Entity {
	type key struct{ t, v string }
	byKey := map[key]*Entity{}
	var order []key

	for _, s := range spans {
		k := key{s.EntityType, normalizeValue(s.EntityType, s.Value)}
		e, ok := byKey[k]
		if !ok {
			e = &Entity{EntityType: k.t, Value: k.v}
			byKey[k] = e
			order = append(order, k)
		}
		e.Mentions = append(e.Mentions, s)
		if s.Confidence > e.MaxConfidence {
			e.MaxConfidence = s.Confidence
		}
	}

	out := make([]Entity, 0, len(byKey))
	for _, k := range order {
		e := byKey[k]
		sort.Slice(e.Mentions, func(i, j int) bool { return e.Mentions[i].Start < e.Mentions[j].Start })
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Mentions[0].Start < out[j].Mentions[0].Start
	})
	return out
}

// CountByType aggregates entities into the map the risk scorer takes.
func CountByType(entities []Entity) map[string]int {
	counts := make(map[string]int, len(entities))
	for _, e := range entities {
		counts[e.EntityType]++
	}
	return counts
}

// MaxConfidenceByType returns the strongest observation per type, used
// by policy trigger evaluation.
func MaxConfidenceByType(entities []Entity) map[string]float64 {
	m := make(map[string]float64, len(entities))
	for _, e := range entities {
		if e.MaxConfidence > m[e.EntityType] {
			m[e.EntityType] = e.MaxConfidence
		}
	}
	return m
}
