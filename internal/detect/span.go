// Package detect implements tiered entity detection: pattern triage,
// NER escalation, then context enhancement over the survivors.
package detect

import (
	"sort"
	"strings"
)

// Span is a typed, scored substring of a document.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"` // pattern, secrets, ner_pii, ner_phi
}

// entityAliases folds the many labels emitted by detectors and models
// into one canonical vocabulary.
var entityAliases = map[string]string{
	"PERSON":      "NAME",
	"PER":         "NAME",
	"FIRSTNAME":   "NAME",
	"LASTNAME":    "NAME",
	"PATIENT":     "NAME",
	"DATE_OF_BIRTH": "DOB",
	"BIRTHDATE":   "DOB",
	"SOCIALNUM":   "SSN",
	"SOCIAL_SECURITY_NUMBER": "SSN",
	"CREDITCARDNUMBER":       "CREDIT_CARD",
	"CC_NUMBER":              "CREDIT_CARD",
	"EMAIL_ADDRESS":          "EMAIL",
	"PHONE_NUMBER":           "PHONE",
	"TELEPHONENUM":           "PHONE",
	"STREET_ADDRESS":         "ADDRESS",
	"LOC":                    "ADDRESS",
	"LOCATION":               "ADDRESS",
	"MEDICAL_RECORD_NUMBER":  "MRN",
	"ROUTING_NUMBER":         "ABA_ROUTING",
	"BANK_ACCOUNT":           "BANK_ACCOUNT_NUMBER",
	"IP":                     "IP_ADDRESS",
}

// NormalizeType maps any detector label onto the canonical vocabulary.
func NormalizeType(t string) string {
	u := strings.ToUpper(strings.TrimSpace(t))
	if canon, ok := entityAliases[u]; ok {
		return canon
	}
	return u
}

// highValueAlwaysKeep are types kept even below the confidence floor.
var highValueAlwaysKeep = map[string]bool{
	"SSN":         true,
	"CREDIT_CARD": true,
	"NPI":         true,
	"AWS_SECRET_KEY": true,
	"PRIVATE_KEY":    true,
}

// mlBeneficialTypes are types where NER reliably improves on weak
// pattern hits.
var mlBeneficialTypes = map[string]bool{
	"NAME":    true,
	"ADDRESS": true,
	"DOB":     true,
	"MRN":     true,
	"DIAGNOSIS": true,
}

// nameClass holds the types that count as person identifiers when
// deciding whether to escalate to NER.
var nameClass = map[string]bool{"NAME": true}

// compatible reports whether two overlapping spans describe the same
// kind of thing and may be merged.
func compatible(a, b string) bool {
	if a == b {
		return true
	}
	// Identifier families that frequently shadow each other.
	family := map[string]string{
		"SSN": "ID", "NPI": "ID", "MRN": "ID",
		"CREDIT_CARD": "FIN", "ABA_ROUTING": "FIN", "IBAN": "FIN", "BANK_ACCOUNT_NUMBER": "FIN",
	}
	return family[a] != "" && family[a] == family[b]
}

// MergeOverlaps collapses overlapping spans of compatible types keeping
// the highest-confidence one. Input order is not assumed.
func MergeOverlaps(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	out := sorted[:0]
	for _, s := range sorted {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		last := &out[len(out)-1]
		if s.Start < last.End && compatible(NormalizeType(s.EntityType), NormalizeType(last.EntityType)) {
			if s.Confidence > last.Confidence {
				*last = s
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
