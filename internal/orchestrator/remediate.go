package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/openlabels/scanner/internal/adapters"
	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/labels"
	"github.com/openlabels/scanner/internal/monitoring"
	"github.com/openlabels/scanner/internal/risk"
)

// remediate dispatches the handling requirements of fired policies:
// quarantine (move aside, local filesystem only), label, notify. Every
// attempt is recorded as a remediation_actions row; remediation never
// fails the scan of the file that triggered it.
func (o *Orchestrator) remediate(ctx context.Context, run scanRun, fi adapters.FileInfo, result *core.ScanResult, verdict risk.PolicyResult) {
	for _, m := range verdict.Matches {
		monitoring.PoliciesViolated.WithLabelValues(run.tenantID.String(), m.Framework).Inc()
	}

	for _, action := range handlingSet(verdict) {
		rec := core.RemediationAction{
			TenantID:   run.tenantID,
			JobID:      run.jobID,
			FilePath:   fi.Path,
			ActionType: action,
		}
		switch action {
		case "quarantine":
			rec.Status = o.quarantine(run, fi)
		case "label":
			rec.Status = o.applyLabel(ctx, fi, result)
		case "notify":
			// Notification rows are the feed consumed by the webhook
			// relay and the catalog; nothing to do inline.
			rec.Status = "recorded"
		default:
			rec.Status = "unsupported"
		}
		if err := o.store.InsertRemediationAction(ctx, &rec); err != nil {
			o.logger.Printf("remediation record failed for %s: %v", fi.Path, err)
		}
	}
}

// handlingSet dedupes the handling requirements across fired policies.
func handlingSet(verdict risk.PolicyResult) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range verdict.Matches {
		for _, h := range m.Handling {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out
}

// quarantine moves the file into a .quarantine directory next to the
// scan root. Only meaningful for local filesystem targets.
func (o *Orchestrator) quarantine(run scanRun, fi adapters.FileInfo) string {
	if run.adapter.Kind() != adapters.KindFilesystem {
		return "unsupported"
	}
	qdir := filepath.Join(filepath.Dir(fi.Path), ".quarantine")
	if err := os.MkdirAll(qdir, 0o700); err != nil {
		return "failed"
	}
	dest := filepath.Join(qdir, fi.Name)
	if err := os.Rename(fi.Path, dest); err != nil {
		return "failed"
	}
	return "applied"
}

// applyLabel writes the tier-mapped sensitivity label and stamps the
// result row on success.
func (o *Orchestrator) applyLabel(ctx context.Context, fi adapters.FileInfo, result *core.ScanResult) string {
	name := labels.LabelForTier(string(result.RiskTier))
	if name == "" {
		return "skipped"
	}
	err := o.labels.Apply(ctx, fi.Path, name)
	switch {
	case err == nil:
		now := time.Now().UTC()
		result.LabelName = name
		result.LabelAppliedAt = &now
		return "applied"
	case errors.Is(err, core.ErrUnsupported):
		return "unsupported"
	default:
		return "failed"
	}
}
