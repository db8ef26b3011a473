// Package catalog maintains the analytical store: operational rows are
// flushed to Zstd parquet files in a Hive-partitioned layout, compacted
// weekly, and queried through an embedded DuckDB facade.
package catalog

import (
	"encoding/json"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/core"
)

// Catalog table names double as directory names in the layout.
const (
	TableScanResults  = "scan_results"
	TableAccessEvents = "file_access_events"
	TableAuditLog     = "audit_log"
	TableMonitored    = "monitored_files"
	TableRemediations = "remediation_actions"
)

// Tables lists every flushed table.
var Tables = []string{TableScanResults, TableAccessEvents, TableAuditLog, TableMonitored, TableRemediations}

// dictOf is the dictionary encoding used for low-cardinality strings.
func dictOf() *arrow.DictionaryType {
	return &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String}
}

var (
	uuidType = &arrow.FixedSizeBinaryType{ByteWidth: 16}
	tsType   = arrow.FixedWidthTypes.Timestamp_ms
)

var scanResultsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: uuidType},
	{Name: "tenant_id", Type: uuidType},
	{Name: "job_id", Type: uuidType},
	{Name: "file_path", Type: arrow.BinaryTypes.String},
	{Name: "file_name", Type: arrow.BinaryTypes.String},
	{Name: "file_size", Type: arrow.PrimitiveTypes.Int64},
	{Name: "content_hash", Type: arrow.BinaryTypes.String},
	{Name: "risk_score", Type: arrow.PrimitiveTypes.Float64},
	{Name: "risk_tier", Type: dictOf()},
	{Name: "entity_counts", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int32)},
	{Name: "exposure_level", Type: dictOf()},
	{Name: "label_name", Type: dictOf()},
	{Name: "scan_error", Type: arrow.BinaryTypes.String},
	{Name: "scanned_at", Type: tsType},
}, nil)

var accessEventsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: uuidType},
	{Name: "tenant_id", Type: uuidType},
	{Name: "file_path", Type: arrow.BinaryTypes.String},
	{Name: "action", Type: dictOf()},
	{Name: "user_name", Type: arrow.BinaryTypes.String},
	{Name: "process_name", Type: arrow.BinaryTypes.String},
	{Name: "event_time", Type: tsType},
	{Name: "event_source", Type: dictOf()},
}, nil)

var auditLogSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: uuidType},
	{Name: "tenant_id", Type: uuidType},
	{Name: "actor", Type: arrow.BinaryTypes.String},
	{Name: "action", Type: dictOf()},
	{Name: "details", Type: arrow.BinaryTypes.String},
	{Name: "created_at", Type: tsType},
}, nil)

var monitoredSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: uuidType},
	{Name: "tenant_id", Type: uuidType},
	{Name: "target_id", Type: uuidType},
	{Name: "file_path", Type: arrow.BinaryTypes.String},
	{Name: "rescan_on_write", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "created_at", Type: tsType},
}, nil)

var remediationsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: uuidType},
	{Name: "tenant_id", Type: uuidType},
	{Name: "job_id", Type: uuidType},
	{Name: "file_path", Type: arrow.BinaryTypes.String},
	{Name: "action_type", Type: dictOf()},
	{Name: "status", Type: dictOf()},
	{Name: "created_at", Type: tsType},
}, nil)

// schemaFor maps a table to its arrow schema.
func schemaFor(table string) *arrow.Schema {
	switch table {
	case TableScanResults:
		return scanResultsSchema
	case TableAccessEvents:
		return accessEventsSchema
	case TableAuditLog:
		return auditLogSchema
	case TableMonitored:
		return monitoredSchema
	case TableRemediations:
		return remediationsSchema
	default:
		panic("catalog: unknown table " + table)
	}
}

// builder helpers

func appendUUID(b array.Builder, u uuid.UUID) {
	b.(*array.FixedSizeBinaryBuilder).Append(u[:])
}

func appendString(b array.Builder, s string) {
	b.(*array.StringBuilder).Append(s)
}

func appendDict(b array.Builder, s string) {
	_ = b.(*array.BinaryDictionaryBuilder).AppendString(s)
}

func appendTS(b array.Builder, t arrow.Timestamp) {
	b.(*array.TimestampBuilder).Append(t)
}

func toTS(sec int64, nsec int64) arrow.Timestamp {
	return arrow.Timestamp(sec*1000 + nsec/int64(1000000))
}

// appendCounts writes the entity_counts map with sorted keys so equal
// inputs produce byte-identical files.
func appendCounts(b array.Builder, raw json.RawMessage) {
	mb := b.(*array.MapBuilder)
	var counts map[string]int32
	if err := json.Unmarshal(raw, &counts); err != nil || len(counts) == 0 {
		mb.Append(true)
		return
	}
	mb.Append(true)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kb := mb.KeyBuilder().(*array.StringBuilder)
	ib := mb.ItemBuilder().(*array.Int32Builder)
	for _, k := range keys {
		kb.Append(k)
		ib.Append(counts[k])
	}
}

// encodeScanResults builds one arrow record for a batch of result rows.
// Caller releases the record.
func encodeScanResults(rows []core.ScanResult) arrow.Record {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, scanResultsSchema)
	defer rb.Release()
	for _, r := range rows {
		appendUUID(rb.Field(0), r.ID)
		appendUUID(rb.Field(1), r.TenantID)
		appendUUID(rb.Field(2), r.JobID)
		appendString(rb.Field(3), r.FilePath)
		appendString(rb.Field(4), r.FileName)
		rb.Field(5).(*array.Int64Builder).Append(r.FileSize)
		appendString(rb.Field(6), r.ContentHash)
		rb.Field(7).(*array.Float64Builder).Append(r.RiskScore)
		appendDict(rb.Field(8), string(r.RiskTier))
		appendCounts(rb.Field(9), r.EntityCounts)
		appendDict(rb.Field(10), string(r.ExposureLevel))
		appendDict(rb.Field(11), r.LabelName)
		appendString(rb.Field(12), r.ScanError)
		appendTS(rb.Field(13), toTS(r.ScannedAt.Unix(), int64(r.ScannedAt.Nanosecond())))
	}
	return rb.NewRecord()
}

func encodeAccessEvents(rows []core.FileAccessEvent) arrow.Record {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, accessEventsSchema)
	defer rb.Release()
	for _, e := range rows {
		appendUUID(rb.Field(0), e.ID)
		appendUUID(rb.Field(1), e.TenantID)
		appendString(rb.Field(2), e.FilePath)
		appendDict(rb.Field(3), string(e.Action))
		appendString(rb.Field(4), e.UserName)
		appendString(rb.Field(5), e.ProcessName)
		appendTS(rb.Field(6), toTS(e.EventTime.Unix(), int64(e.EventTime.Nanosecond())))
		appendDict(rb.Field(7), e.EventSource)
	}
	return rb.NewRecord()
}

func encodeAuditLogs(rows []core.AuditLog) arrow.Record {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, auditLogSchema)
	defer rb.Release()
	for _, a := range rows {
		appendUUID(rb.Field(0), a.ID)
		appendUUID(rb.Field(1), a.TenantID)
		appendString(rb.Field(2), a.Actor)
		appendDict(rb.Field(3), a.Action)
		appendString(rb.Field(4), string(a.Details))
		appendTS(rb.Field(5), toTS(a.CreatedAt.Unix(), int64(a.CreatedAt.Nanosecond())))
	}
	return rb.NewRecord()
}

func encodeMonitored(rows []core.MonitoredFile) arrow.Record {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, monitoredSchema)
	defer rb.Release()
	for _, m := range rows {
		appendUUID(rb.Field(0), m.ID)
		appendUUID(rb.Field(1), m.TenantID)
		appendUUID(rb.Field(2), m.TargetID)
		appendString(rb.Field(3), m.FilePath)
		rb.Field(4).(*array.BooleanBuilder).Append(m.RescanOnWrite)
		appendTS(rb.Field(5), toTS(m.CreatedAt.Unix(), int64(m.CreatedAt.Nanosecond())))
	}
	return rb.NewRecord()
}

func encodeRemediations(rows []core.RemediationAction) arrow.Record {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, remediationsSchema)
	defer rb.Release()
	for _, a := range rows {
		appendUUID(rb.Field(0), a.ID)
		appendUUID(rb.Field(1), a.TenantID)
		appendUUID(rb.Field(2), a.JobID)
		appendString(rb.Field(3), a.FilePath)
		appendDict(rb.Field(4), a.ActionType)
		appendDict(rb.Field(5), a.Status)
		appendTS(rb.Field(6), toTS(a.CreatedAt.Unix(), int64(a.CreatedAt.Nanosecond())))
	}
	return rb.NewRecord()
}
