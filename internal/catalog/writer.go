package catalog

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/monitoring"
)

// flushBatchLimit caps rows pulled past the cursor per table per cycle;
// a backlog drains over consecutive cycles.
const flushBatchLimit = 10000

// Flusher moves operational rows into the parquet catalog. One replica
// flushes at a time, coordinated by the event-flush advisory lock, and
// cursors advance only after a successful file write.
type Flusher struct {
	store    *database.Store
	basePath string
	interval time.Duration
	logger   *log.Logger
}

// NewFlusher writes under basePath using the layout
// {table}/tenant={id}/date=YYYY-MM-DD/part-{ts}.parquet.
func NewFlusher(store *database.Store, basePath string, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Flusher{
		store:    store,
		basePath: basePath,
		interval: interval,
		logger:   log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
}

// Run flushes on the interval until ctx is cancelled, with a final
// flush on shutdown.
func (f *Flusher) Run(ctx context.Context) {
	f.logger.Printf("flush loop started (every %s, base=%s)", f.interval, f.basePath)
	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
			f.FlushOnce(drainCtx)
			cancel()
			f.logger.Printf("flush loop stopped")
			return
		case <-t.C:
			f.FlushOnce(ctx)
		}
	}
}

// FlushOnce runs one full flush cycle under the advisory lock.
func (f *Flusher) FlushOnce(ctx context.Context) {
	held, err := f.store.WithAdvisoryLock(ctx, database.LockEventFlush, func(ctx context.Context) error {
		tenants, err := f.store.ListTenantIDs(ctx)
		if err != nil {
			return err
		}
		for _, tenantID := range tenants {
			for _, table := range Tables {
				if err := f.flushTable(ctx, table, tenantID); err != nil {
					f.logger.Printf("flush %s tenant=%s failed: %v", table, tenantID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		f.logger.Printf("flush cycle failed: %v", err)
	}
	_ = held
}

// flushTable drains one (table, tenant) stream past its cursor.
func (f *Flusher) flushTable(ctx context.Context, table string, tenantID uuid.UUID) error {
	for {
		cursor, err := f.store.GetCatalogCursor(ctx, table, tenantID)
		if err != nil {
			return err
		}
		record, rows, maxTS, err := f.loadBatch(ctx, table, tenantID, cursor)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}

		err = f.writeFile(table, tenantID, maxTS, record)
		record.Release()
		if err != nil {
			return err
		}
		if err := f.store.CommitCatalogCursor(ctx, table, tenantID, maxTS); err != nil {
			return err
		}
		monitoring.CatalogRowsFlushed.WithLabelValues(table).Add(float64(rows))
		if rows < flushBatchLimit {
			return nil
		}
	}
}

// loadBatch pulls rows past the cursor and encodes them. maxTS is the
// cursor value a successful write commits.
func (f *Flusher) loadBatch(ctx context.Context, table string, tenantID uuid.UUID, since time.Time) (arrow.Record, int, time.Time, error) {
	switch table {
	case TableScanResults:
		rows, err := f.store.ResultsSince(ctx, tenantID, since, flushBatchLimit)
		if err != nil || len(rows) == 0 {
			return nil, 0, time.Time{}, err
		}
		return encodeScanResults(rows), len(rows), rows[len(rows)-1].ScannedAt, nil
	case TableAccessEvents:
		rows, err := f.store.AccessEventsSince(ctx, tenantID, since, flushBatchLimit)
		if err != nil || len(rows) == 0 {
			return nil, 0, time.Time{}, err
		}
		return encodeAccessEvents(rows), len(rows), rows[len(rows)-1].EventTime, nil
	case TableAuditLog:
		rows, err := f.store.AuditLogsSince(ctx, tenantID, since, flushBatchLimit)
		if err != nil || len(rows) == 0 {
			return nil, 0, time.Time{}, err
		}
		return encodeAuditLogs(rows), len(rows), rows[len(rows)-1].CreatedAt, nil
	case TableMonitored:
		rows, err := f.store.MonitoredFilesSince(ctx, tenantID, since, flushBatchLimit)
		if err != nil || len(rows) == 0 {
			return nil, 0, time.Time{}, err
		}
		return encodeMonitored(rows), len(rows), rows[len(rows)-1].CreatedAt, nil
	case TableRemediations:
		rows, err := f.store.RemediationsSince(ctx, tenantID, since, flushBatchLimit)
		if err != nil || len(rows) == 0 {
			return nil, 0, time.Time{}, err
		}
		return encodeRemediations(rows), len(rows), rows[len(rows)-1].CreatedAt, nil
	default:
		return nil, 0, time.Time{}, fmt.Errorf("unknown catalog table %s", table)
	}
}

// writeFile writes one record as a Zstd parquet file in the Hive
// layout. The write is atomic: temp file then rename, so readers never
// see partial files.
func (f *Flusher) writeFile(table string, tenantID uuid.UUID, batchTS time.Time, record arrow.Record) error {
	dir := filepath.Join(f.basePath, table,
		"tenant="+tenantID.String(),
		"date="+batchTS.UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	final := filepath.Join(dir, fmt.Sprintf("part-%d.parquet", time.Now().UnixNano()))
	tmp := final + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	writer, err := pqarrow.NewFileWriter(record.Schema(), file, props, arrowProps)
	if err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		os.Remove(tmp)
		return err
	}
	if err := writer.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	f.logger.Printf("wrote %s (%d rows)", final, record.NumRows())
	return nil
}
