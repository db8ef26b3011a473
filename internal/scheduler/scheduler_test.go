package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func TestNext(t *testing.T) {
	s := New(nil, nil, 0, 0)
	from := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)

	next, err := s.Next("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), next)

	// Sunday weekly run: March 2 2026 is a Monday.
	next, err = s.Next("0 3 * * 0", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 8, 3, 0, 0, 0, time.UTC), next)

	// Step expressions.
	next, err = s.Next("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 1, 45, 0, 0, time.UTC), next)
}

func TestNextStrictlyAfter(t *testing.T) {
	s := New(nil, nil, 0, 0)
	at := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

	next, err := s.Next("0 2 * * *", at)
	require.NoError(t, err)
	assert.Equal(t, at.Add(24*time.Hour), next)
}

func TestNextInvalidExpression(t *testing.T) {
	s := New(nil, nil, 0, 0)

	for _, expr := range []string{"", "not a cron", "0 2 * *", "61 * * * *"} {
		_, err := s.Next(expr, time.Now())
		require.Error(t, err, expr)
		assert.Equal(t, core.CodeValidation, core.CodeOf(err), expr)
	}
}

func TestNewDefaults(t *testing.T) {
	s := New(nil, nil, 0, 0)
	assert.Equal(t, 10*time.Second, s.pollInterval)
	assert.Equal(t, time.Minute, s.minTriggerInterval)
}
