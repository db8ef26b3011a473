package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openlabels/scanner/internal/core"
)

// CreateScanJob inserts a pending scan job.
func (s *Store) CreateScanJob(ctx context.Context, j *core.ScanJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = core.StatusPending
	}
	if j.ScanMode == "" {
		j.ScanMode = core.ScanModeSingle
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_jobs (id, tenant_id, target_id, status, scan_mode)
		 VALUES ($1, $2, $3, $4, $5)`,
		j.ID, j.TenantID, j.TargetID, j.Status, j.ScanMode)
	return err
}

// GetScanJob returns a tenant's job. Cross-tenant ids are NOT_FOUND.
func (s *Store) GetScanJob(ctx context.Context, tenantID, id uuid.UUID) (*core.ScanJob, error) {
	var j core.ScanJob
	err := s.db.GetContext(ctx, &j,
		`SELECT * FROM scan_jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListScanJobs returns a tenant's jobs newest first.
func (s *Store) ListScanJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]core.ScanJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []core.ScanJob
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM scan_jobs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	return out, err
}

// StartScanJob transitions pending -> running. Only the leasing worker
// calls this; a false return means the job was cancelled first.
func (s *Store) StartScanJob(ctx context.Context, id uuid.UUID, mode core.ScanMode, totalPartitions int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_jobs SET status = 'running', scan_mode = $2, total_partitions = $3, started_at = now()
		 WHERE id = $1 AND status = 'pending'`, id, mode, totalPartitions)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinishScanJob moves a running job to a terminal status.
func (s *Store) FinishScanJob(ctx context.Context, id uuid.UUID, status core.JobStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_jobs SET status = $2, error = $3, completed_at = now()
		 WHERE id = $1 AND status = 'running'`, id, status, errMsg)
	return err
}

// CancelScanJob requests cancellation. Pending jobs cancel immediately;
// running jobs keep status until workers observe the flag, so the row is
// marked and workers check IsJobCancelled per file.
func (s *Store) CancelScanJob(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_jobs SET status = 'cancelled', completed_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'running')`, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// IsJobCancelled is the cancellation flag polled by scan workers.
func (s *Store) IsJobCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	var status core.JobStatus
	if err := s.db.GetContext(ctx, &status, `SELECT status FROM scan_jobs WHERE id = $1`, id); err != nil {
		return false, err
	}
	return status == core.StatusCancelled, nil
}

// AddJobCounters adds batched per-file counters onto the job row.
func (s *Store) AddJobCounters(ctx context.Context, id uuid.UUID, files, withPII, entities int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_jobs SET files_scanned = files_scanned + $2,
		        files_with_pii = files_with_pii + $3,
		        total_entities = total_entities + $4
		 WHERE id = $1`, id, files, withPII, entities)
	return err
}

// CreatePartitions materializes the fan-out slices in one transaction.
func (s *Store) CreatePartitions(ctx context.Context, parts []core.ScanPartition) error {
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		for i := range parts {
			p := &parts[i]
			if p.ID == uuid.Nil {
				p.ID = uuid.New()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO scan_partitions (id, tenant_id, job_id, partition_index, status, partition_spec)
				 VALUES ($1, $2, $3, $4, 'pending', $5)`,
				p.ID, p.TenantID, p.JobID, p.Index, p.Spec); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPartition loads one partition row.
func (s *Store) GetPartition(ctx context.Context, id uuid.UUID) (*core.ScanPartition, error) {
	var p core.ScanPartition
	err := s.db.GetContext(ctx, &p, `SELECT * FROM scan_partitions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// StartPartition transitions a partition to running under this worker.
func (s *Store) StartPartition(ctx context.Context, id uuid.UUID, workerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_partitions SET status = 'running', worker_id = $2, updated_at = now()
		 WHERE id = $1`, id, workerID)
	return err
}

// FinishPartition records a partition's terminal state and rolls the
// completion counters up onto the job.
func (s *Store) FinishPartition(ctx context.Context, id uuid.UUID, status core.JobStatus, filesScanned int64) error {
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		var jobID uuid.UUID
		err := tx.GetContext(ctx, &jobID,
			`UPDATE scan_partitions SET status = $2, files_scanned = $3, updated_at = now()
			 WHERE id = $1 RETURNING job_id`, id, status, filesScanned)
		if err != nil {
			return err
		}
		col := "partitions_completed"
		if status == core.StatusFailed {
			col = "partitions_failed"
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE scan_jobs SET `+col+` = `+col+` + 1 WHERE id = $1`, jobID)
		return err
	})
}

// BumpPartitionRetry increments retry_count and re-marks pending.
func (s *Store) BumpPartitionRetry(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_partitions SET status = 'pending', retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1`, id)
	return err
}

// SavePartitionProgress persists the resume cursor.
func (s *Store) SavePartitionProgress(ctx context.Context, id uuid.UUID, lastPath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_partitions SET last_processed_path = $2, updated_at = now() WHERE id = $1`, id, lastPath)
	return err
}

// PartitionStats returns terminal counts for the aggregator poll.
func (s *Store) PartitionStats(ctx context.Context, jobID uuid.UUID) (completed, failed, total int, err error) {
	var row struct {
		Completed int `db:"completed"`
		Failed    int `db:"failed"`
		Total     int `db:"total"`
	}
	err = s.db.GetContext(ctx, &row,
		`SELECT count(*) FILTER (WHERE status = 'completed') AS completed,
		        count(*) FILTER (WHERE status = 'failed') AS failed,
		        count(*) AS total
		 FROM scan_partitions WHERE job_id = $1`, jobID)
	return row.Completed, row.Failed, row.Total, err
}

// InsertScanResults persists a batch of result rows in one transaction.
func (s *Store) InsertScanResults(ctx context.Context, results []core.ScanResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *sqlx.Tx) error {
		for i := range results {
			r := &results[i]
			if r.ID == uuid.Nil {
				r.ID = uuid.New()
			}
			if r.ScannedAt.IsZero() {
				r.ScannedAt = time.Now().UTC()
			}
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO scan_results
					(id, tenant_id, job_id, file_path, file_name, file_size, content_hash,
					 risk_score, risk_tier, entity_counts, exposure_level, label_name,
					 label_applied_at, policy_violations, scan_error, scanned_at)
				VALUES
					(:id, :tenant_id, :job_id, :file_path, :file_name, :file_size, :content_hash,
					 :risk_score, :risk_tier, :entity_counts, :exposure_level, :label_name,
					 :label_applied_at, :policy_violations, :scan_error, :scanned_at)`, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResultFilter narrows QueryScanResults.
type ResultFilter struct {
	JobID    *uuid.UUID
	RiskTier core.RiskTier
	PathLike string
	Since    *time.Time
	Limit    int
	Offset   int
}

// QueryScanResults returns a tenant's results, newest first.
func (s *Store) QueryScanResults(ctx context.Context, tenantID uuid.UUID, f ResultFilter) ([]core.ScanResult, error) {
	q := `SELECT * FROM scan_results WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.JobID != nil {
		args = append(args, *f.JobID)
		q += ` AND job_id = $` + itoa(len(args))
	}
	if f.RiskTier != "" {
		args = append(args, f.RiskTier)
		q += ` AND risk_tier = $` + itoa(len(args))
	}
	if f.PathLike != "" {
		args = append(args, "%"+f.PathLike+"%")
		q += ` AND file_path LIKE $` + itoa(len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		q += ` AND scanned_at > $` + itoa(len(args))
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	args = append(args, f.Limit)
	q += ` ORDER BY scanned_at DESC LIMIT $` + itoa(len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += ` OFFSET $` + itoa(len(args))
	}

	var out []core.ScanResult
	err := s.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// ResultsSince feeds the catalog flush and SIEM export loops.
func (s *Store) ResultsSince(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]core.ScanResult, error) {
	var out []core.ScanResult
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM scan_results WHERE tenant_id = $1 AND scanned_at > $2
		 ORDER BY scanned_at LIMIT $3`, tenantID, since, limit)
	return out, err
}

// WriteScanSummary inserts the per-job aggregate. Idempotent on job_id:
// a re-run aggregator hits the unique constraint and treats it as done.
func (s *Store) WriteScanSummary(ctx context.Context, sum *core.ScanSummary) error {
	if sum.ID == uuid.Nil {
		sum.ID = uuid.New()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO scan_summaries
			(id, tenant_id, job_id, files_scanned, files_with_pii, total_entities,
			 tier_counts, top_entity_types, labels_applied, duration_seconds)
		VALUES
			(:id, :tenant_id, :job_id, :files_scanned, :files_with_pii, :total_entities,
			 :tier_counts, :top_entity_types, :labels_applied, :duration_seconds)
		ON CONFLICT (job_id) DO NOTHING`, sum)
	return err
}

// GetScanSummary returns the summary for a tenant's job.
func (s *Store) GetScanSummary(ctx context.Context, tenantID, jobID uuid.UUID) (*core.ScanSummary, error) {
	var sum core.ScanSummary
	err := s.db.GetContext(ctx, &sum,
		`SELECT * FROM scan_summaries WHERE tenant_id = $1 AND job_id = $2`, tenantID, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// JobRollup aggregates a finished job's result rows for the summary.
type JobRollup struct {
	FilesScanned  int64            `db:"filesscanned"`
	FilesWithPII  int64            `db:"fileswithpii"`
	TotalEntities int64            `db:"totalentities"`
	LabelsApplied int64            `db:"labelsapplied"`
	TierCounts    map[string]int64 `db:"-"`
	TopTypes      map[string]int64 `db:"-"`
}

// ComputeJobRollup derives the summary aggregates from scan_results.
// Runs once per job at aggregation time, so full-scan cost is fine.
func (s *Store) ComputeJobRollup(ctx context.Context, tenantID, jobID uuid.UUID) (*JobRollup, error) {
	r := &JobRollup{TierCounts: map[string]int64{}, TopTypes: map[string]int64{}}

	err := s.db.GetContext(ctx, r, `
		SELECT count(*) AS filesscanned,
		       count(*) FILTER (WHERE entity_counts <> '{}'::jsonb) AS fileswithpii,
		       coalesce(sum((SELECT sum(v.value::bigint) FROM jsonb_each_text(entity_counts) v)), 0) AS totalentities,
		       count(*) FILTER (WHERE label_name <> '') AS labelsapplied
		FROM scan_results WHERE tenant_id = $1 AND job_id = $2`, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	type kv struct {
		K string `db:"k"`
		N int64  `db:"n"`
	}
	var tiers []kv
	err = s.db.SelectContext(ctx, &tiers, `
		SELECT risk_tier AS k, count(*) AS n FROM scan_results
		WHERE tenant_id = $1 AND job_id = $2 GROUP BY risk_tier`, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	for _, t := range tiers {
		r.TierCounts[t.K] = t.N
	}

	var types []kv
	err = s.db.SelectContext(ctx, &types, `
		SELECT v.key AS k, sum(v.value::bigint) AS n
		FROM scan_results, jsonb_each_text(entity_counts) v
		WHERE tenant_id = $1 AND job_id = $2
		GROUP BY v.key ORDER BY n DESC LIMIT 10`, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		r.TopTypes[t.K] = t.N
	}
	return r, nil
}

// InsertRemediationAction records one remediation outcome.
func (s *Store) InsertRemediationAction(ctx context.Context, a *core.RemediationAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remediation_actions (id, tenant_id, job_id, file_path, action_type, status, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.TenantID, a.JobID, a.FilePath, a.ActionType, a.Status, nullableJSON(a.Details))
	return err
}

// RemediationsSince feeds the catalog flush loop.
func (s *Store) RemediationsSince(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]core.RemediationAction, error) {
	var out []core.RemediationAction
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM remediation_actions WHERE tenant_id = $1 AND created_at > $2
		 ORDER BY created_at LIMIT $3`, tenantID, since, limit)
	return out, err
}

func itoa(n int) string { return strconv.Itoa(n) }
