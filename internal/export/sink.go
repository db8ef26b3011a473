// Package export fans scan findings and access events out to SIEM
// platforms. Each sink speaks its native wire format; the engine owns
// cursors, retries and per-sink failure isolation.
package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openlabels/scanner/internal/core"
)

// Record types accepted by export_record_types.
const (
	RecordScanResult  = "scan_results"
	RecordAccessEvent = "file_access_events"
)

// Record is one exportable finding, flattened for sink framing.
type Record struct {
	Type string
	Time time.Time
	Data map[string]interface{}
}

// Sink delivers batches to one SIEM. ExportBatch returns the number of
// records actually delivered; a short count with nil error never
// happens, errors carry the partial count.
type Sink interface {
	Name() string
	ExportBatch(ctx context.Context, records []Record) (int, error)
	TestConnection(ctx context.Context) error
}

// FromScanResult flattens a result row.
func FromScanResult(r core.ScanResult) Record {
	var counts map[string]int
	_ = json.Unmarshal(r.EntityCounts, &counts)
	data := map[string]interface{}{
		"record_type":    "scan_result",
		"tenant_id":      r.TenantID.String(),
		"job_id":         r.JobID.String(),
		"file_path":      r.FilePath,
		"file_name":      r.FileName,
		"file_size":      r.FileSize,
		"risk_score":     r.RiskScore,
		"risk_tier":      string(r.RiskTier),
		"exposure_level": string(r.ExposureLevel),
		"entity_counts":  counts,
		"scanned_at":     r.ScannedAt.UTC().Format(time.RFC3339),
	}
	if r.LabelName != "" {
		data["label_name"] = r.LabelName
	}
	if len(r.PolicyViolations) > 0 {
		var v interface{}
		if json.Unmarshal(r.PolicyViolations, &v) == nil {
			data["policy_violations"] = v
		}
	}
	if r.ScanError != "" {
		data["scan_error"] = r.ScanError
	}
	return Record{Type: RecordScanResult, Time: r.ScannedAt, Data: data}
}

// FromAccessEvent flattens an access event row.
func FromAccessEvent(e core.FileAccessEvent) Record {
	return Record{
		Type: RecordAccessEvent,
		Time: e.EventTime,
		Data: map[string]interface{}{
			"record_type":  "file_access_event",
			"tenant_id":    e.TenantID.String(),
			"file_path":    e.FilePath,
			"action":       string(e.Action),
			"user_name":    e.UserName,
			"process_name": e.ProcessName,
			"event_time":   e.EventTime.UTC().Format(time.RFC3339),
			"event_source": e.EventSource,
		},
	}
}

// severityOf maps a record to a 0-10 severity for LEEF/CEF framing.
func severityOf(r Record) int {
	switch r.Data["risk_tier"] {
	case "CRITICAL":
		return 10
	case "HIGH":
		return 8
	case "MEDIUM":
		return 5
	case "LOW":
		return 3
	}
	if r.Type == RecordAccessEvent {
		return 2
	}
	return 1
}
