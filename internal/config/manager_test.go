package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDefaultsAndOverrides(t *testing.T) {
	m := NewManager(Defaults().Tenants)

	s := m.Resolve("tenant-a", nil)
	assert.Equal(t, 10000, s.FanoutThreshold)
	assert.Equal(t, 32, s.FanoutMaxPartitions)
	assert.Equal(t, 5000, s.PartitionTargetSize)

	raw := json.RawMessage(`{"fanout_max_partitions": 8, "partition_target_size": 2000}`)
	s = m.Resolve("tenant-b", raw)
	assert.Equal(t, 8, s.FanoutMaxPartitions)
	assert.Equal(t, 2000, s.PartitionTargetSize)
	// Absent keys keep defaults.
	assert.Equal(t, 10000, s.FanoutThreshold)

	// Malformed blobs fall back to defaults.
	s = m.Resolve("tenant-c", json.RawMessage(`{not json`))
	assert.Equal(t, 5000, s.PartitionTargetSize)
}
