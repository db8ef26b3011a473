package detect

import "regexp"

// pattern is one triage detector: a regex plus an optional checksum
// validator. Validated matches get the high confidence, unvalidated
// formats the base confidence.
type pattern struct {
	entityType     string
	re             *regexp.Regexp
	validate       func(string) bool
	baseConfidence float64
	highConfidence float64
}

var patternBank = []pattern{
	{
		entityType:     "SSN",
		re:             regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		validate:       validSSN,
		baseConfidence: 0.40,
		highConfidence: 0.90,
	},
	{
		entityType:     "SSN",
		re:             regexp.MustCompile(`\b\d{9}\b`),
		validate:       validSSN,
		baseConfidence: 0.15,
		highConfidence: 0.55, // bare 9 digits is ambiguous even when well-formed
	},
	{
		entityType:     "CREDIT_CARD",
		re:             regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
		validate:       luhn,
		baseConfidence: 0.25,
		highConfidence: 0.92,
	},
	{
		entityType:     "ABA_ROUTING",
		re:             regexp.MustCompile(`\b\d{9}\b`),
		validate:       validABA,
		baseConfidence: 0.10,
		highConfidence: 0.80,
	},
	{
		entityType:     "IBAN",
		re:             regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		validate:       validIBAN,
		baseConfidence: 0.30,
		highConfidence: 0.95,
	},
	{
		entityType:     "VIN",
		re:             regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`),
		validate:       validVIN,
		baseConfidence: 0.20,
		highConfidence: 0.90,
	},
	{
		entityType:     "NPI",
		re:             regexp.MustCompile(`\b\d{10}\b`),
		validate:       validNPI,
		baseConfidence: 0.10,
		highConfidence: 0.85,
	},
	{
		entityType:     "EMAIL",
		re:             regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		baseConfidence: 0.90,
	},
	{
		entityType:     "PHONE",
		re:             regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`),
		baseConfidence: 0.60,
	},
	{
		entityType:     "IP_ADDRESS",
		re:             regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		baseConfidence: 0.70,
	},
	{
		entityType:     "DOB",
		re:             regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`),
		baseConfidence: 0.50,
	},
	{
		entityType:     "MRN",
		re:             regexp.MustCompile(`(?i)\bMRN[:#]?\s*\d{6,10}\b`),
		baseConfidence: 0.85,
	},
	{
		entityType:     "PASSPORT",
		re:             regexp.MustCompile(`(?i)\bpassport\s*(?:no|number|#)?[:.]?\s*[A-Z0-9]{6,9}\b`),
		baseConfidence: 0.75,
	},
	{
		entityType:     "ICD10",
		re:             regexp.MustCompile(`\b[A-TV-Z]\d{2}(?:\.\d{1,4})?\b`),
		baseConfidence: 0.35,
	},
}

// RunPatterns executes the triage bank over text and returns raw spans.
// Each span's type is already normalized.
func RunPatterns(text string) []Span {
	var spans []Span
	for _, p := range patternBank {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			conf := p.baseConfidence
			if p.validate != nil {
				if p.validate(value) {
					conf = p.highConfidence
				} else if p.baseConfidence < 0.3 {
					// Checksum failed on an ambiguous format: not a hit.
					continue
				}
			}
			spans = append(spans, Span{
				Start:      loc[0],
				End:        loc[1],
				EntityType: NormalizeType(p.entityType),
				Value:      value,
				Confidence: conf,
				Source:     "pattern",
			})
		}
	}
	return spans
}
