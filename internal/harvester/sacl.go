//go:build !windows

package harvester

import (
	"context"
	"time"

	"github.com/openlabels/scanner/internal/core"
)

// SACLProvider reads Windows Security log entries generated by SACL
// auditing on monitored files. Off Windows every harvest reports
// unsupported; registering it on a non-Windows host is a config error
// surfaced on the first cycle.
type SACLProvider struct{}

func NewSACLProvider() *SACLProvider { return &SACLProvider{} }

func (p *SACLProvider) Name() string { return "windows_sacl" }

func (p *SACLProvider) Harvest(ctx context.Context, since time.Time) ([]RawAccessEvent, time.Time, error) {
	return nil, since, core.ErrUnsupported
}
