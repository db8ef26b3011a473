package detect

import "regexp"

// secretPattern is one credential detector. Secrets skip checksum
// validation; format specificity carries the confidence.
type secretPattern struct {
	entityType string
	re         *regexp.Regexp
	confidence float64
}

var secretBank = []secretPattern{
	{"AWS_ACCESS_KEY", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), 0.95},
	{"AWS_SECRET_KEY", regexp.MustCompile(`(?i)aws.{0,20}?['"][0-9a-zA-Z/+]{40}['"]`), 0.85},
	{"PRIVATE_KEY", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |PGP )?PRIVATE KEY-----`), 0.99},
	{"GITHUB_TOKEN", regexp.MustCompile(`\bgh[pousr]_[0-9A-Za-z]{36,255}\b`), 0.95},
	{"SLACK_TOKEN", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z\-]{10,}\b`), 0.92},
	{"JWT", regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\b`), 0.90},
	{"BEARER_TOKEN", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}=*`), 0.70},
	{"API_KEY_ASSIGNMENT", regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret[_-]?key|auth[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9\-._]{16,}['"]?`), 0.75},
	{"PASSWORD_ASSIGNMENT", regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`), 0.60},
	{"CONNECTION_STRING", regexp.MustCompile(`(?i)\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`), 0.90},
}

// RunSecrets executes the secrets bank over text.
func RunSecrets(text string) []Span {
	var spans []Span
	for _, p := range secretBank {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{
				Start:      loc[0],
				End:        loc[1],
				EntityType: p.entityType,
				Value:      text[loc[0]:loc[1]],
				Confidence: p.confidence,
				Source:     "secrets",
			})
		}
	}
	return spans
}
