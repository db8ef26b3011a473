package harvester

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func TestStreamPushOverflow(t *testing.T) {
	m := NewStreamManager(nil, "pubsub", 10, 3, time.Second)
	tenantID := uuid.New()
	e := RawAccessEvent{FilePath: "/f", Action: core.ActionRead, EventTime: time.Now()}

	assert.True(t, m.Push(tenantID, e))
	assert.True(t, m.Push(tenantID, e))
	assert.True(t, m.Push(tenantID, e))
	assert.Equal(t, 3, m.Buffered())
	assert.Zero(t, m.Dropped())

	// Full buffer drops new events without evicting the backlog.
	assert.False(t, m.Push(tenantID, e))
	assert.False(t, m.Push(tenantID, e))
	assert.Equal(t, 3, m.Buffered())
	assert.EqualValues(t, 2, m.Dropped())
}

func TestStreamTakeBatches(t *testing.T) {
	m := NewStreamManager(nil, "pubsub", 2, 100, time.Second)
	tenantID := uuid.New()
	for i := 0; i < 5; i++ {
		require.True(t, m.Push(tenantID, RawAccessEvent{FilePath: "/f", EventTime: time.Now()}))
	}

	assert.Len(t, m.take(), 2)
	assert.Len(t, m.take(), 2)
	assert.Len(t, m.take(), 1)
	assert.Nil(t, m.take())
	assert.Zero(t, m.Buffered())
}

func TestStreamDefaults(t *testing.T) {
	m := NewStreamManager(nil, "pubsub", 0, 0, 0)
	assert.Equal(t, 500, m.batchSize)
	assert.Equal(t, 50000, m.maxBuffer)
	assert.Equal(t, 5*time.Second, m.flushInterval)
}
