package detect

import (
	"regexp"
	"strings"
)

// Context enhancement examines the text around each surviving span and
// adjusts or drops it.
const contextWindow = 64

var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(?:\s[^>]*)?>`), // HTML tags
	regexp.MustCompile(`^[A-Z]{2,5}-\d{2,8}$`),               // pure reference codes (JIRA-1234)
	regexp.MustCompile(`^(?:REF|INV|PO|ORD)[-#]?\d+$`),
}

// denyValues are literal values that are never sensitive on their own.
var denyValues = map[string]bool{
	"acme corporation": true,
	"contoso":          true,
	"example inc":      true,
	"lorem ipsum":      true,
}

var negativeHotwords = []string{
	"test", "example", "sample", "dummy", "n/a", "placeholder", "fake", "lorem",
}

var positiveHotwords = []string{
	"patient", "dob", "date of birth", "ssn", "social security",
	"diagnosis", "account", "routing", "card number", "password",
	"confidential", "member id", "mrn",
}

const (
	negativeFactor  = 0.5
	positiveFactor  = 1.2
	confidenceFloor = 0.5
)

// prose heuristic: a value with several lowercase words and sentence
// punctuation is running text, not an entity.
var proseRe = regexp.MustCompile(`^[a-z][a-z ,;]{20,}[.!?]?$`)

func looksLikeProse(v string) bool {
	lower := strings.ToLower(strings.TrimSpace(v))
	return strings.Count(lower, " ") >= 4 && proseRe.MatchString(lower)
}

// EnhanceContext applies stage-3 adjustments and filters. The input
// slice is not modified.
func EnhanceContext(text string, spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		value := strings.TrimSpace(s.Value)
		if dropValue(value) || looksLikeProse(value) {
			continue
		}

		window := surrounding(text, s)
		lower := strings.ToLower(window)
		for _, w := range negativeHotwords {
			if strings.Contains(lower, w) {
				s.Confidence *= negativeFactor
				break
			}
		}
		for _, w := range positiveHotwords {
			if strings.Contains(lower, w) {
				s.Confidence *= positiveFactor
				if s.Confidence > 1.0 {
					s.Confidence = 1.0
				}
				break
			}
		}

		if s.Confidence < confidenceFloor && !highValueAlwaysKeep[s.EntityType] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func dropValue(v string) bool {
	if denyValues[strings.ToLower(v)] {
		return true
	}
	for _, re := range denyPatterns {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

func surrounding(text string, s Span) string {
	start := s.Start - contextWindow
	if start < 0 {
		start = 0
	}
	end := s.End + contextWindow
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}
