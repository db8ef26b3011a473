package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "pgx")), mock
}

func TestEnsureMonthPartitionsYearRollover(t *testing.T) {
	s, mock := newMockStore(t)

	// December: the next-month partition crosses into the new year.
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scan_results_y2026m12 PARTITION OF scan_results FOR VALUES FROM \('2026-12-01'\) TO \('2027-01-01'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scan_results_y2027m01 PARTITION OF scan_results FOR VALUES FROM \('2027-01-01'\) TO \('2027-02-01'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS file_access_events_y2026m12 PARTITION OF file_access_events FOR VALUES FROM \('2026-12-01'\) TO \('2027-01-01'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS file_access_events_y2027m01 PARTITION OF file_access_events FOR VALUES FROM \('2027-01-01'\) TO \('2027-02-01'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Date(2026, time.December, 15, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.EnsureMonthPartitions(context.Background(), now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
