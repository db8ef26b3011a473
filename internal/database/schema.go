package database

import (
	"context"
	"fmt"
	"time"
)

// EnsureSchema creates the operational tables if missing. The two
// high-volume tables are range-partitioned monthly by their time column
// with a composite primary key; partitions for the current and next month
// are created eagerly, the flush loop creates later ones on demand.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		settings JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id TEXT PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS scan_targets (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		name TEXT NOT NULL,
		adapter_kind TEXT NOT NULL,
		config JSONB NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS scan_jobs (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		target_id UUID NOT NULL REFERENCES scan_targets(id),
		status TEXT NOT NULL DEFAULT 'pending',
		scan_mode TEXT NOT NULL DEFAULT 'single',
		total_partitions INT NOT NULL DEFAULT 0,
		partitions_completed INT NOT NULL DEFAULT 0,
		partitions_failed INT NOT NULL DEFAULT 0,
		files_scanned BIGINT NOT NULL DEFAULT 0,
		files_with_pii BIGINT NOT NULL DEFAULT 0,
		total_entities BIGINT NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_jobs_tenant_status ON scan_jobs (tenant_id, status, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS scan_partitions (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		job_id UUID NOT NULL REFERENCES scan_jobs(id),
		partition_index INT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		worker_id TEXT NOT NULL DEFAULT '',
		partition_spec JSONB NOT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		files_scanned BIGINT NOT NULL DEFAULT 0,
		last_processed_path TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (job_id, partition_index)
	)`,

	`CREATE TABLE IF NOT EXISTS scan_results (
		id UUID NOT NULL,
		tenant_id UUID NOT NULL,
		job_id UUID NOT NULL,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		risk_tier TEXT NOT NULL DEFAULT 'MINIMAL',
		entity_counts JSONB NOT NULL DEFAULT '{}',
		exposure_level TEXT NOT NULL DEFAULT 'PRIVATE',
		label_name TEXT NOT NULL DEFAULT '',
		label_applied_at TIMESTAMPTZ,
		policy_violations JSONB,
		scan_error TEXT NOT NULL DEFAULT '',
		scanned_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (id, scanned_at)
	) PARTITION BY RANGE (scanned_at)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_tenant_tier ON scan_results (tenant_id, risk_tier, scanned_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_tenant_path ON scan_results (tenant_id, file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_results_entities ON scan_results USING GIN (entity_counts)`,

	`CREATE TABLE IF NOT EXISTS scan_summaries (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		job_id UUID NOT NULL UNIQUE,
		files_scanned BIGINT NOT NULL DEFAULT 0,
		files_with_pii BIGINT NOT NULL DEFAULT 0,
		total_entities BIGINT NOT NULL DEFAULT 0,
		tier_counts JSONB NOT NULL DEFAULT '{}',
		top_entity_types JSONB NOT NULL DEFAULT '[]',
		labels_applied BIGINT NOT NULL DEFAULT 0,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS job_queue (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		task_type TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		priority INT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		run_after TIMESTAMPTZ NOT NULL DEFAULT now(),
		leased_until TIMESTAMPTZ,
		leased_by TEXT NOT NULL DEFAULT '',
		enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_queue_dequeue ON job_queue (status, run_after, priority DESC, enqueued_at)`,

	`CREATE TABLE IF NOT EXISTS schedules (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		target_id UUID NOT NULL REFERENCES scan_targets(id),
		cron_expression TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS monitored_files (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		target_id UUID NOT NULL,
		file_path TEXT NOT NULL,
		rescan_on_write BOOLEAN NOT NULL DEFAULT false,
		last_seen_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, file_path)
	)`,

	`CREATE TABLE IF NOT EXISTS file_access_events (
		id UUID NOT NULL,
		tenant_id UUID NOT NULL,
		file_path TEXT NOT NULL,
		action TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		process_name TEXT NOT NULL DEFAULT '',
		event_time TIMESTAMPTZ NOT NULL,
		event_source TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id, event_time)
	) PARTITION BY RANGE (event_time)`,
	`CREATE INDEX IF NOT EXISTS idx_access_events_tenant_path ON file_access_events (tenant_id, file_path, event_time DESC)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log (tenant_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS policies (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		name TEXT NOT NULL,
		framework TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT true,
		config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS remediation_actions (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		job_id UUID NOT NULL,
		file_path TEXT NOT NULL,
		action_type TEXT NOT NULL,
		status TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS checkpoint_cursors (
		tenant_id UUID NOT NULL,
		provider TEXT NOT NULL,
		cursor TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, provider)
	)`,

	`CREATE TABLE IF NOT EXISTS export_cursors (
		sink TEXT PRIMARY KEY,
		cursor TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS catalog_cursors (
		table_name TEXT NOT NULL,
		tenant_id UUID NOT NULL,
		cursor TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (table_name, tenant_id)
	)`,
}

// EnsureMonthPartitions creates this month's and next month's partitions
// for the two range-partitioned tables. Partition bounds must be literals,
// so the DDL is generated here rather than in schemaStatements.
func (s *Store) EnsureMonthPartitions(ctx context.Context, now time.Time) error {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for _, table := range []string{"scan_results", "file_access_events"} {
		for i := 0; i < 2; i++ {
			from := start.AddDate(0, i, 0)
			to := start.AddDate(0, i+1, 0)
			stmt := fmt.Sprintf(
				`CREATE TABLE IF NOT EXISTS %s_y%dm%02d PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
				table, from.Year(), int(from.Month()), table,
				from.Format("2006-01-02"), to.Format("2006-01-02"),
			)
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}
