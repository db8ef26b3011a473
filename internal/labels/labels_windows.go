//go:build windows

package labels

import (
	"context"
	"fmt"
	"os"
	"time"
)

// adsApplier writes the label into an NTFS alternate data stream on the
// file. Consumers (and rescans) read it back from the same stream.
type adsApplier struct{}

// New returns the platform label applier.
func New() Applier { return adsApplier{} }

func (adsApplier) Available() bool { return true }

const labelStream = ":openlabels.label"

func (adsApplier) Apply(ctx context.Context, filePath, labelName string) error {
	payload := fmt.Sprintf("%s\n%s\n", labelName, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filePath+labelStream, []byte(payload), 0o600); err != nil {
		return fmt.Errorf("label write failed: %w", err)
	}
	return nil
}
