package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "pgx"), 2*time.Minute), mock
}

func TestBackoffBounds(t *testing.T) {
	for retry := 0; retry < 12; retry++ {
		d := Backoff(retry)
		assert.GreaterOrEqual(t, d, 15*time.Second, "retry %d", retry)
		assert.LessOrEqual(t, d, 15*time.Minute, "retry %d", retry)
	}

	// First retry jitters within [15s, 30s].
	for i := 0; i < 50; i++ {
		d := Backoff(0)
		assert.GreaterOrEqual(t, d, 15*time.Second)
		assert.LessOrEqual(t, d, 30*time.Second)
	}

	// Large retry counts saturate instead of overflowing.
	d := Backoff(60)
	assert.GreaterOrEqual(t, d, 450*time.Second)
	assert.LessOrEqual(t, d, 15*time.Minute)
}

func TestEnqueueInsertsPendingRow(t *testing.T) {
	q, mock := newMockQueue(t)
	tenantID := uuid.New()

	mock.ExpectExec(`INSERT INTO job_queue`).
		WithArgs(sqlmock.AnyArg(), tenantID, TaskScan, []byte(`{"path":"/data"}`), PriorityScheduled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := q.Enqueue(context.Background(), tenantID, TaskScan, map[string]string{"path": "/data"}, PriorityScheduled)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectQuery(`UPDATE job_queue SET status = 'running'`).
		WithArgs("worker-1", "2m0s").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	job, err := q.Dequeue(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueReturnsLeasedJob(t *testing.T) {
	q, mock := newMockQueue(t)
	jobID, tenantID := uuid.New(), uuid.New()
	now := time.Now()
	until := now.Add(2 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "task_type", "payload", "priority", "status",
		"retry_count", "max_retries", "run_after", "leased_until", "leased_by", "enqueued_at",
	}).AddRow(jobID, tenantID, TaskScan, []byte(`{}`), PriorityScheduled, "running",
		0, 5, now, &until, "worker-1", now)

	mock.ExpectQuery(`UPDATE job_queue SET status = 'running'`).
		WithArgs("worker-1", "2m0s").
		WillReturnRows(rows)

	job, err := q.Dequeue(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, TaskScan, job.TaskType)
	assert.Equal(t, "worker-1", job.LeasedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatReportsLeaseLoss(t *testing.T) {
	q, mock := newMockQueue(t)
	jobID := uuid.New()

	mock.ExpectExec(`UPDATE job_queue SET leased_until`).
		WithArgs(jobID, "worker-1", "2m0s").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := q.Heartbeat(context.Background(), jobID, "worker-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(`UPDATE job_queue SET leased_until`).
		WithArgs(jobID, "worker-1", "2m0s").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = q.Heartbeat(context.Background(), jobID, "worker-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNackRequeuesWithBackoff(t *testing.T) {
	q, mock := newMockQueue(t)
	job := &core.QueuedJob{ID: uuid.New(), RetryCount: 1, MaxRetries: 5}

	mock.ExpectExec(`UPDATE job_queue SET status = 'pending', retry_count = retry_count \+ 1`).
		WithArgs(job.ID, "worker-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Nack(context.Background(), job, "worker-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNackFailsWhenRetriesExhausted(t *testing.T) {
	q, mock := newMockQueue(t)
	job := &core.QueuedJob{ID: uuid.New(), RetryCount: 4, MaxRetries: 5}

	mock.ExpectExec(`UPDATE job_queue SET status = 'failed'`).
		WithArgs(job.ID, "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Nack(context.Background(), job, "worker-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimCountsBothOutcomes(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`UPDATE job_queue SET status = 'pending'`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`UPDATE job_queue SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := q.Reclaim(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepth(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectQuery(`SELECT count`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "running"}).AddRow(7, 2))

	pending, running, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, pending)
	assert.EqualValues(t, 2, running)
	assert.NoError(t, mock.ExpectationsWereMet())
}
