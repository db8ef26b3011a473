package orchestrator

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// textExtensions are formats read as plain text. Anything else is
// sniffed: valid UTF-8 without NUL bytes still scans as text.
var textExtensions = map[string]bool{
	".txt": true, ".log": true, ".csv": true, ".tsv": true,
	".json": true, ".ndjson": true, ".xml": true, ".yaml": true, ".yml": true,
	".md": true, ".html": true, ".htm": true, ".sql": true, ".ini": true,
	".conf": true, ".cfg": true, ".env": true, ".properties": true,
	".eml": true, ".vcf": true, ".rtf": true,
}

// extractText converts file content to scannable text. Returns false
// for binary content we have no extraction path for; such files are
// recorded as scanned clean rather than errored.
func extractText(name string, data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}

	ext := strings.ToLower(filepath.Ext(name))
	if textExtensions[ext] {
		return string(data), true
	}

	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return "", false
	}
	if !utf8.Valid(probe) {
		return "", false
	}
	return string(data), true
}
