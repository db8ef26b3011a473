package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/database"
)

func newMockReclaimer(t *testing.T) (*Reclaimer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := sqlx.NewDb(db, "pgx")
	return NewReclaimer(New(sdb, 2*time.Minute), database.NewStore(sdb), time.Minute), mock
}

func TestMaintainPartitionsCreatesMonthTables(t *testing.T) {
	r, mock := newMockReclaimer(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs(database.LockPartitionMaint).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scan_results_y\d+m\d+ PARTITION OF scan_results`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scan_results_y\d+m\d+ PARTITION OF scan_results`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS file_access_events_y\d+m\d+ PARTITION OF file_access_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS file_access_events_y\d+m\d+ PARTITION OF file_access_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WithArgs(database.LockPartitionMaint).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.maintainPartitions(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaintainPartitionsSkipsWhenLockHeld(t *testing.T) {
	r, mock := newMockReclaimer(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs(database.LockPartitionMaint).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	require.NoError(t, r.maintainPartitions(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
