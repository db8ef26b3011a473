package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openlabels/scanner/internal/core"
)

// InsertAccessEvents persists a batch of access events in one
// transaction. Order within the batch is preserved by insertion order.
func (s *Store) InsertAccessEvents(ctx context.Context, events []core.FileAccessEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		for i := range events {
			e := &events[i]
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO file_access_events
					(id, tenant_id, file_path, action, user_name, process_name, event_time, event_source)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				e.ID, e.TenantID, e.FilePath, e.Action, e.UserName, e.ProcessName, e.EventTime, e.EventSource); err != nil {
				return err
			}
		}
		return nil
	})
}

// AccessEventsSince feeds the catalog flush and SIEM export loops.
func (s *Store) AccessEventsSince(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]core.FileAccessEvent, error) {
	var out []core.FileAccessEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM file_access_events WHERE tenant_id = $1 AND event_time > $2
		 ORDER BY event_time LIMIT $3`, tenantID, since, limit)
	return out, err
}

// QueryAccessEvents serves dashboard point lookups.
func (s *Store) QueryAccessEvents(ctx context.Context, tenantID uuid.UUID, pathLike string, limit int) ([]core.FileAccessEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []core.FileAccessEvent
	q := `SELECT * FROM file_access_events WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if pathLike != "" {
		args = append(args, "%"+pathLike+"%")
		q += ` AND file_path LIKE $2`
	}
	args = append(args, limit)
	q += ` ORDER BY event_time DESC LIMIT $` + itoa(len(args))
	err := s.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// GetCheckpoint returns a provider's harvest cursor, zero time when the
// provider has never committed.
func (s *Store) GetCheckpoint(ctx context.Context, tenantID uuid.UUID, provider string) (time.Time, error) {
	var cur time.Time
	err := s.db.GetContext(ctx, &cur,
		`SELECT cursor FROM checkpoint_cursors WHERE tenant_id = $1 AND provider = $2`, tenantID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return cur, err
}

// CommitCheckpoint advances a provider cursor, never backwards.
func (s *Store) CommitCheckpoint(ctx context.Context, tenantID uuid.UUID, provider string, cursor time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoint_cursors (tenant_id, provider, cursor, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (tenant_id, provider)
		 DO UPDATE SET cursor = GREATEST(checkpoint_cursors.cursor, EXCLUDED.cursor), updated_at = now()`,
		tenantID, provider, cursor)
	return err
}

// RegisterMonitoredFile upserts a registry entry.
func (s *Store) RegisterMonitoredFile(ctx context.Context, m *core.MonitoredFile) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitored_files (id, tenant_id, target_id, file_path, rescan_on_write)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, file_path)
		 DO UPDATE SET rescan_on_write = EXCLUDED.rescan_on_write, last_seen_at = now()`,
		m.ID, m.TenantID, m.TargetID, m.FilePath, m.RescanOnWrite)
	return err
}

// LookupMonitoredFile returns the registry entry for a path, nil if the
// path is not monitored.
func (s *Store) LookupMonitoredFile(ctx context.Context, tenantID uuid.UUID, path string) (*core.MonitoredFile, error) {
	var m core.MonitoredFile
	err := s.db.GetContext(ctx, &m,
		`SELECT * FROM monitored_files WHERE tenant_id = $1 AND file_path = $2`, tenantID, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MonitoredFilesSince feeds the catalog flush loop.
func (s *Store) MonitoredFilesSince(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]core.MonitoredFile, error) {
	var out []core.MonitoredFile
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM monitored_files WHERE tenant_id = $1 AND created_at > $2
		 ORDER BY created_at LIMIT $3`, tenantID, since, limit)
	return out, err
}

// ListTenantIDs enumerates tenants for per-tenant loops (flush, export).
func (s *Store) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := s.db.SelectContext(ctx, &out, `SELECT id FROM tenants ORDER BY created_at`)
	return out, err
}

// GetCatalogCursor returns the catalog flush cursor for (table, tenant).
func (s *Store) GetCatalogCursor(ctx context.Context, table string, tenantID uuid.UUID) (time.Time, error) {
	var cur time.Time
	err := s.db.GetContext(ctx, &cur,
		`SELECT cursor FROM catalog_cursors WHERE table_name = $1 AND tenant_id = $2`, table, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return cur, err
}

// CommitCatalogCursor advances the catalog flush cursor after a
// successful parquet write. Never moves backwards, so re-runs after a
// failed write retry the same rows.
func (s *Store) CommitCatalogCursor(ctx context.Context, table string, tenantID uuid.UUID, cursor time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO catalog_cursors (table_name, tenant_id, cursor, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (table_name, tenant_id)
		 DO UPDATE SET cursor = GREATEST(catalog_cursors.cursor, EXCLUDED.cursor), updated_at = now()`,
		table, tenantID, cursor)
	return err
}

// GetExportCursor returns a SIEM sink's cursor, zero time if absent.
func (s *Store) GetExportCursor(ctx context.Context, sink string) (time.Time, error) {
	var cur time.Time
	err := s.db.GetContext(ctx, &cur, `SELECT cursor FROM export_cursors WHERE sink = $1`, sink)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return cur, err
}

// CommitExportCursor advances a sink cursor monotonically.
func (s *Store) CommitExportCursor(ctx context.Context, sink string, cursor time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO export_cursors (sink, cursor, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (sink)
		 DO UPDATE SET cursor = GREATEST(export_cursors.cursor, EXCLUDED.cursor), updated_at = now()`,
		sink, cursor)
	return err
}
