package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func TestRunSafelyConvertsPanics(t *testing.T) {
	err := runSafely(context.Background(), func(ctx context.Context, job *core.QueuedJob) error {
		panic("bad payload")
	}, &core.QueuedJob{})
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))
	assert.Contains(t, err.Error(), "bad payload")
}

func TestRunSafelyPassesErrorsThrough(t *testing.T) {
	want := core.Transient("db timeout", errors.New("timeout"))
	err := runSafely(context.Background(), func(ctx context.Context, job *core.QueuedJob) error {
		return want
	}, &core.QueuedJob{})
	assert.True(t, core.IsTransient(err))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	pool := NewWorkerPool(New(nil, 0), 2, 0)
	h := func(ctx context.Context, job *core.QueuedJob) error { return nil }

	pool.Register(TaskScan, h)
	assert.Panics(t, func() { pool.Register(TaskScan, h) })
}
