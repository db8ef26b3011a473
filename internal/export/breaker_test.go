package export

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := newBreaker("test", 3, time.Hour)
	fail := func() error { return errors.New("sink down") }

	for i := 0; i < 3; i++ {
		err := b.Execute(fail)
		require.Error(t, err)
		assert.NotErrorIs(t, err, errBreakerOpen)
	}

	// Tripped: calls are rejected without touching the sink.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, errBreakerOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newBreaker("test", 3, time.Hour)
	fail := func() error { return errors.New("sink down") }
	ok := func() error { return nil }

	require.Error(t, b.Execute(fail))
	require.Error(t, b.Execute(fail))
	require.NoError(t, b.Execute(ok))
	require.Error(t, b.Execute(fail))
	require.Error(t, b.Execute(fail))

	// Still closed: the success cleared the streak.
	assert.NoError(t, b.Execute(ok))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := newBreaker("test", 1, 10*time.Millisecond)
	require.Error(t, b.Execute(func() error { return errors.New("down") }))
	assert.ErrorIs(t, b.Execute(func() error { return nil }), errBreakerOpen)

	time.Sleep(20 * time.Millisecond)

	// One probe is admitted; success closes the breaker.
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, stateClosed, b.state)
	assert.NoError(t, b.Execute(func() error { return nil }))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := newBreaker("test", 1, 10*time.Millisecond)
	require.Error(t, b.Execute(func() error { return errors.New("down") }))

	time.Sleep(20 * time.Millisecond)

	require.Error(t, b.Execute(func() error { return errors.New("still down") }))
	assert.Equal(t, stateOpen, b.state)
	assert.ErrorIs(t, b.Execute(func() error { return nil }), errBreakerOpen)
}
