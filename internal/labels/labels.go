// Package labels applies sensitivity labels to files after scanning.
// Label application rides on platform facilities and is only available
// on Windows hosts; elsewhere every call reports unsupported and the
// remediation record carries that status.
package labels

import "context"

// Applier writes a sensitivity label onto a file.
type Applier interface {
	Apply(ctx context.Context, filePath, labelName string) error
	Available() bool
}

// LabelForTier maps a risk tier to the label name recorded on results.
// Empty means no label at that tier.
func LabelForTier(tier string) string {
	switch tier {
	case "CRITICAL":
		return "Highly Confidential"
	case "HIGH":
		return "Confidential"
	case "MEDIUM":
		return "Internal"
	default:
		return ""
	}
}
