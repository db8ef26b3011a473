// Package queue is the durable work queue in the operational store.
// Dequeue leases one row at a time with FOR UPDATE SKIP LOCKED so that
// at most one worker holds a row; expired leases are reclaimed by a
// background loop.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openlabels/scanner/internal/core"
)

// Task types dispatched through the queue.
const (
	TaskScan          = "scan"
	TaskScanPartition = "scan_partition"
	TaskScanAggregate = "scan_aggregate"
	TaskRescanFile    = "rescan_file"
)

// Priorities. Higher runs first.
const (
	PriorityScheduled = 50
	PriorityRescan    = 90
)

// Queue runs the lease SQL. It shares the operational store's pool.
type Queue struct {
	db       *sqlx.DB
	leaseTTL time.Duration
}

// New creates a queue handle.
func New(db *sqlx.DB, leaseTTL time.Duration) *Queue {
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	return &Queue{db: db, leaseTTL: leaseTTL}
}

// Enqueue inserts a pending job runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, tenantID uuid.UUID, taskType string, payload interface{}, priority int) (uuid.UUID, error) {
	return q.EnqueueAfter(ctx, tenantID, taskType, payload, priority, time.Now())
}

// EnqueueAfter inserts a pending job that becomes runnable at runAfter.
func (q *Queue) EnqueueAfter(ctx context.Context, tenantID uuid.UUID, taskType string, payload interface{}, priority int, runAfter time.Time) (uuid.UUID, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO job_queue (id, tenant_id, task_type, payload, priority, status, run_after)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6)`,
		id, tenantID, taskType, blob, priority, runAfter)
	return id, err
}

// Dequeue leases the highest-priority runnable job, or returns nil
// without blocking when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*core.QueuedJob, error) {
	var job core.QueuedJob
	err := q.db.GetContext(ctx, &job, `
		UPDATE job_queue SET status = 'running', leased_by = $1, leased_until = now() + $2::interval
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = 'pending' AND run_after <= now()
			ORDER BY priority DESC, enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		workerID, q.leaseTTL.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Heartbeat extends the caller's lease. A zero-row update means the
// lease was lost (reclaimed); the worker must abandon the job.
func (q *Queue) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE job_queue SET leased_until = now() + $3::interval
		 WHERE id = $1 AND leased_by = $2 AND status = 'running'`,
		jobID, workerID, q.leaseTTL.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Ack marks the job completed.
func (q *Queue) Ack(ctx context.Context, jobID uuid.UUID, workerID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE job_queue SET status = 'completed', leased_by = '', leased_until = NULL
		 WHERE id = $1 AND leased_by = $2`, jobID, workerID)
	return err
}

// Nack re-queues the job with exponential backoff, or fails it
// permanently once retries are exhausted.
func (q *Queue) Nack(ctx context.Context, job *core.QueuedJob, workerID string) error {
	if job.RetryCount+1 >= job.MaxRetries {
		_, err := q.db.ExecContext(ctx,
			`UPDATE job_queue SET status = 'failed', retry_count = retry_count + 1,
			        leased_by = '', leased_until = NULL
			 WHERE id = $1 AND leased_by = $2`, job.ID, workerID)
		return err
	}
	delay := Backoff(job.RetryCount)
	_, err := q.db.ExecContext(ctx,
		`UPDATE job_queue SET status = 'pending', retry_count = retry_count + 1,
		        run_after = now() + $3::interval, leased_by = '', leased_until = NULL
		 WHERE id = $1 AND leased_by = $2`, job.ID, workerID, delay.String())
	return err
}

// Fail marks the job permanently failed (PERMANENT task errors).
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, workerID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE job_queue SET status = 'failed', leased_by = '', leased_until = NULL
		 WHERE id = $1 AND leased_by = $2`, jobID, workerID)
	return err
}

// Reclaim re-queues rows whose lease expired and retries remain, and
// fails the rest. Returns how many rows were touched.
func (q *Queue) Reclaim(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'pending', retry_count = retry_count + 1,
		       leased_by = '', leased_until = NULL
		WHERE status = 'running' AND leased_until < now() AND retry_count < max_retries`)
	if err != nil {
		return 0, err
	}
	reclaimed, _ := res.RowsAffected()

	res, err = q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'failed', leased_by = '', leased_until = NULL
		WHERE status = 'running' AND leased_until < now() AND retry_count >= max_retries`)
	if err != nil {
		return reclaimed, err
	}
	failed, _ := res.RowsAffected()
	return reclaimed + failed, nil
}

// Cleanup deletes terminal rows older than retention.
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM job_queue WHERE status IN ('completed', 'failed') AND enqueued_at < now() - $1::interval`,
		retention.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Depth returns pending and running counts for the status endpoint.
func (q *Queue) Depth(ctx context.Context) (pending, running int64, err error) {
	var row struct {
		Pending int64 `db:"pending"`
		Running int64 `db:"running"`
	}
	err = q.db.GetContext(ctx, &row, `
		SELECT count(*) FILTER (WHERE status = 'pending') AS pending,
		       count(*) FILTER (WHERE status = 'running') AS running
		FROM job_queue`)
	return row.Pending, row.Running, err
}

// Backoff returns the nack delay for the given retry count: exponential
// from 30s, equal jitter (uniform over the upper half), capped at 15
// minutes.
func Backoff(retryCount int) time.Duration {
	base := 30 * time.Second
	d := base << uint(retryCount)
	if max := 15 * time.Minute; d > max || d <= 0 {
		d = 15 * time.Minute
	}
	// Equal jitter keeps retry storms from synchronizing while never
	// dropping below half the exponential delay.
	return time.Duration(rand.Int63n(int64(d)/2) + int64(d)/2)
}
