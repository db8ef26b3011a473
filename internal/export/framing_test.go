package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func sampleRecord() Record {
	return Record{
		Type: RecordScanResult,
		Time: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"record_type": "scan_result",
			"file_path":   `C:\share\hr=data.csv`,
			"risk_tier":   "HIGH",
			"risk_score":  62.5,
		},
	}
}

func TestLeefEscape(t *testing.T) {
	assert.Equal(t, `a\\b`, leefEscape(`a\b`))
	assert.Equal(t, `a\tb`, leefEscape("a\tb"))
	assert.Equal(t, `k\=v`, leefEscape("k=v"))
	assert.Equal(t, "plain", leefEscape("plain"))
}

func TestLeefEncode(t *testing.T) {
	line := leefEncode(sampleRecord())

	assert.True(t, strings.HasPrefix(line, "LEEF:2.0|OpenLabels|Scanner|2.0|scan_result|"))
	assert.Contains(t, line, "\tdevTime=2026-03-01T10:30:00Z")
	assert.Contains(t, line, "\tsev=8")
	assert.Contains(t, line, "\tfile_path="+`C:\\share\\hr\=data.csv`)
	assert.Contains(t, line, "\trisk_score=62.5")
	// record_type names the event in the header, not the attributes.
	assert.NotContains(t, line, "\trecord_type=")

	// Attribute keys come out sorted.
	attrs := strings.Split(line, "\t")[1:]
	assert.Equal(t, "devTime", strings.SplitN(attrs[0], "=", 2)[0])
	assert.Equal(t, "sev", strings.SplitN(attrs[1], "=", 2)[0])
	assert.Equal(t, "file_path", strings.SplitN(attrs[2], "=", 2)[0])
}

func TestCefEncode(t *testing.T) {
	line := cefEncode(sampleRecord())

	assert.True(t, strings.HasPrefix(line, "CEF:0|OpenLabels|Scanner|2.0|scan_result|Sensitive Data Finding|8|"))
	assert.Contains(t, line, "rt=2026-03-01T10:30:00Z")
	assert.Contains(t, line, ` file_path=C:\\share\\hr\=data.csv`)
	assert.NotContains(t, line, "record_type=")
}

func TestCefEncodeAccessEvent(t *testing.T) {
	r := Record{
		Type: RecordAccessEvent,
		Time: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"record_type": "file_access_event",
			"user_name":   "j.doe",
		},
	}
	line := cefEncode(r)
	assert.Contains(t, line, "|file_access_event|File Access|2|")
}

func TestCefEscaping(t *testing.T) {
	assert.Equal(t, `a\|b\\c`, cefHeaderEscape(`a|b\c`))
	assert.Equal(t, `x\=y\nz`, cefExtEscape("x=y\nz"))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "plain", stringify("plain"))
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "42", stringify(42))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, `{"SSN":3}`, stringify(map[string]int{"SSN": 3}))
}

func TestSeverityOf(t *testing.T) {
	sev := func(tier string) int {
		return severityOf(Record{Type: RecordScanResult, Data: map[string]interface{}{"risk_tier": tier}})
	}
	assert.Equal(t, 10, sev("CRITICAL"))
	assert.Equal(t, 8, sev("HIGH"))
	assert.Equal(t, 5, sev("MEDIUM"))
	assert.Equal(t, 3, sev("LOW"))
	assert.Equal(t, 1, sev("MINIMAL"))
	assert.Equal(t, 2, severityOf(Record{Type: RecordAccessEvent, Data: map[string]interface{}{}}))
}

func TestFromScanResult(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()
	scannedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := core.ScanResult{
		TenantID:         tenantID,
		JobID:            jobID,
		FilePath:         "/hr/payroll.csv",
		FileName:         "payroll.csv",
		FileSize:         2048,
		RiskScore:        91.2,
		RiskTier:         core.TierCritical,
		ExposureLevel:    core.ExposureOrgWide,
		EntityCounts:     json.RawMessage(`{"SSN":4,"NAME":4}`),
		PolicyViolations: json.RawMessage(`[{"policy_name":"PHI record"}]`),
		LabelName:        "Highly Confidential",
		ScannedAt:        scannedAt,
	}

	rec := FromScanResult(r)
	assert.Equal(t, RecordScanResult, rec.Type)
	assert.Equal(t, scannedAt, rec.Time)
	assert.Equal(t, tenantID.String(), rec.Data["tenant_id"])
	assert.Equal(t, "CRITICAL", rec.Data["risk_tier"])
	assert.Equal(t, map[string]int{"SSN": 4, "NAME": 4}, rec.Data["entity_counts"])
	assert.Equal(t, "Highly Confidential", rec.Data["label_name"])
	require.Contains(t, rec.Data, "policy_violations")
	assert.NotContains(t, rec.Data, "scan_error")
}
