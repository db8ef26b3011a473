package catalog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func TestSchemaForCoversAllTables(t *testing.T) {
	for _, table := range Tables {
		assert.NotNil(t, schemaFor(table), table)
	}
	assert.Panics(t, func() { schemaFor("no_such_table") })
}

func TestEncodeScanResults(t *testing.T) {
	id, tenantID, jobID := uuid.New(), uuid.New(), uuid.New()
	scannedAt := time.Date(2026, 3, 1, 10, 0, 0, 250_000_000, time.UTC)
	rows := []core.ScanResult{{
		ID:            id,
		TenantID:      tenantID,
		JobID:         jobID,
		FilePath:      "/hr/payroll.csv",
		FileName:      "payroll.csv",
		FileSize:      4096,
		ContentHash:   "abc123",
		RiskScore:     91.2,
		RiskTier:      core.TierCritical,
		EntityCounts:  json.RawMessage(`{"SSN":4,"NAME":2}`),
		ExposureLevel: core.ExposureOrgWide,
		ScannedAt:     scannedAt,
	}}

	rec := encodeScanResults(rows)
	defer rec.Release()

	require.EqualValues(t, 1, rec.NumRows())
	require.True(t, rec.Schema().Equal(scanResultsSchema))

	assert.Equal(t, id[:], []byte(rec.Column(0).(*array.FixedSizeBinary).Value(0)))
	assert.Equal(t, "/hr/payroll.csv", rec.Column(3).(*array.String).Value(0))
	assert.EqualValues(t, 4096, rec.Column(5).(*array.Int64).Value(0))
	assert.InDelta(t, 91.2, rec.Column(7).(*array.Float64).Value(0), 0.001)

	tier := rec.Column(8).(*array.Dictionary)
	assert.Equal(t, "CRITICAL", tier.Dictionary().(*array.String).Value(tier.GetValueIndex(0)))

	// entity_counts keys come out sorted.
	counts := rec.Column(9).(*array.Map)
	keys := counts.Keys().(*array.String)
	items := counts.Items().(*array.Int32)
	start, end := counts.ValueOffsets(0)
	require.EqualValues(t, 2, end-start)
	assert.Equal(t, "NAME", keys.Value(int(start)))
	assert.EqualValues(t, 2, items.Value(int(start)))
	assert.Equal(t, "SSN", keys.Value(int(start)+1))
	assert.EqualValues(t, 4, items.Value(int(start)+1))

	ts := rec.Column(13).(*array.Timestamp)
	assert.EqualValues(t, scannedAt.UnixMilli(), ts.Value(0))
}

func TestEncodeAccessEvents(t *testing.T) {
	eventTime := time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)
	rows := []core.FileAccessEvent{
		{ID: uuid.New(), TenantID: uuid.New(), FilePath: "/a", Action: core.ActionRead, UserName: "alice", ProcessName: "vim", EventTime: eventTime, EventSource: "auditd"},
		{ID: uuid.New(), TenantID: uuid.New(), FilePath: "/b", Action: core.ActionWrite, UserName: "bob", ProcessName: "code", EventTime: eventTime, EventSource: "auditd"},
	}

	rec := encodeAccessEvents(rows)
	defer rec.Release()

	require.EqualValues(t, 2, rec.NumRows())
	assert.Equal(t, "/a", rec.Column(2).(*array.String).Value(0))
	assert.Equal(t, "bob", rec.Column(4).(*array.String).Value(1))

	action := rec.Column(3).(*array.Dictionary)
	assert.Equal(t, "read", action.Dictionary().(*array.String).Value(action.GetValueIndex(0)))
	assert.Equal(t, "write", action.Dictionary().(*array.String).Value(action.GetValueIndex(1)))
}

func TestEncodeEmptyBatch(t *testing.T) {
	rec := encodeScanResults(nil)
	defer rec.Release()
	assert.EqualValues(t, 0, rec.NumRows())
	assert.EqualValues(t, len(scanResultsSchema.Fields()), rec.NumCols())
}

func TestToTS(t *testing.T) {
	ts := toTS(1740000000, 250_000_000)
	assert.Equal(t, arrow.Timestamp(1740000000250), ts)
}
