//go:build !windows

package labels

import (
	"context"

	"github.com/openlabels/scanner/internal/core"
)

type stubApplier struct{}

// New returns the platform label applier. On non-Windows hosts labeling
// is unavailable and Apply returns ErrUnsupported.
func New() Applier { return stubApplier{} }

func (stubApplier) Available() bool { return false }

func (stubApplier) Apply(ctx context.Context, filePath, labelName string) error {
	return core.ErrUnsupported
}
