package orchestrator

import (
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/adapters"
)

func TestTopPrefix(t *testing.T) {
	assert.Equal(t, "hr", topPrefix("/hr/benefits/2024.csv"))
	assert.Equal(t, "hr", topPrefix("hr/benefits/2024.csv"))
	assert.Equal(t, "hr", topPrefix(`\hr\benefits\2024.csv`))
	assert.Equal(t, "readme.txt", topPrefix("readme.txt"))
	assert.Equal(t, "", topPrefix("/"))
}

func TestPartitionSpecMatchPrefix(t *testing.T) {
	spec := PartitionSpec{Kind: "prefix", Prefixes: []string{"hr", "finance"}}

	assert.True(t, spec.Match(adapters.FileInfo{Path: "/hr/payroll.csv"}))
	assert.True(t, spec.Match(adapters.FileInfo{Path: "finance/q1/report.xlsx"}))
	assert.False(t, spec.Match(adapters.FileInfo{Path: "/engineering/design.md"}))
}

func TestPartitionSpecMatchToken(t *testing.T) {
	specs := []PartitionSpec{
		{Kind: "token", Index: 0, Of: 4},
		{Kind: "token", Index: 1, Of: 4},
		{Kind: "token", Index: 2, Of: 4},
		{Kind: "token", Index: 3, Of: 4},
	}

	paths := []string{"/a/1.txt", "/a/2.txt", "/b/3.txt", "/c/4.txt", "/d/5.txt"}
	for _, p := range paths {
		h := fnv.New32a()
		h.Write([]byte(p))
		want := int(h.Sum32()) % 4

		matched := 0
		for i, spec := range specs {
			if spec.Match(adapters.FileInfo{Path: p}) {
				assert.Equal(t, want, i)
				matched++
			}
		}
		assert.Equal(t, 1, matched, "path %s must land in exactly one partition", p)
	}
}

func TestPartitionSpecMatchTokenZeroOf(t *testing.T) {
	spec := PartitionSpec{Kind: "token", Index: 0, Of: 0}
	assert.True(t, spec.Match(adapters.FileInfo{Path: "/anything"}))
}

func TestPlanPartitionsPrefixGrouping(t *testing.T) {
	est := estimateResult{
		count: 900,
		prefixes: map[string]int{
			"hr": 500, "finance": 250, "legal": 100, "eng": 50,
		},
	}

	specs := planPartitions(est, 2, 450)
	require.Len(t, specs, 2)

	seen := map[string]int{}
	for i, spec := range specs {
		assert.Equal(t, "prefix", spec.Kind)
		assert.Equal(t, i, spec.Index)
		assert.Equal(t, 2, spec.Of)
		for _, p := range spec.Prefixes {
			seen[p]++
		}
	}
	// Every prefix lands in exactly one group.
	assert.Equal(t, map[string]int{"hr": 1, "finance": 1, "legal": 1, "eng": 1}, seen)

	// Round-robin over size order pairs the biggest with the smallest.
	assert.Equal(t, []string{"hr", "legal"}, specs[0].Prefixes)
	assert.Equal(t, []string{"finance", "eng"}, specs[1].Prefixes)

	// The last partition is the catch-all for prefixes outside the
	// sample; it excludes exactly what the others own.
	assert.False(t, specs[0].Rest)
	assert.True(t, specs[1].Rest)
	assert.Equal(t, []string{"hr", "legal"}, specs[1].Exclude)
}

func TestPlanPartitionsCountFromEstimate(t *testing.T) {
	// ceil(9000/2000) = 5 partitions, under the cap.
	est := estimateResult{count: 9000, prefixes: map[string]int{"data": 9000}}
	specs := planPartitions(est, 32, 2000)
	require.Len(t, specs, 5)
	for i, spec := range specs {
		assert.Equal(t, "token", spec.Kind)
		assert.Equal(t, i, spec.Index)
		assert.Equal(t, 5, spec.Of)
	}

	// The cap wins when the estimate would demand more.
	est = estimateResult{count: 100000, prefixes: map[string]int{"data": 100000}}
	specs = planPartitions(est, 16, 1000)
	assert.Len(t, specs, 16)

	// Never fewer than two partitions in fan-out mode.
	est = estimateResult{count: 10, prefixes: map[string]int{"data": 10}}
	specs = planPartitions(est, 8, 5000)
	assert.Len(t, specs, 2)
}

func TestPlanPartitionsFewerPrefixesThanGroups(t *testing.T) {
	est := estimateResult{count: 100, prefixes: map[string]int{"hr": 60, "eng": 40}}
	specs := planPartitions(est, 8, 10)
	require.Len(t, specs, 2)
	assert.Equal(t, "prefix", specs[0].Kind)
}

func TestPlanPartitionsTokenFallback(t *testing.T) {
	// A single prefix cannot be sliced by prefix.
	est := estimateResult{count: 5000, prefixes: map[string]int{"data": 5000}}
	specs := planPartitions(est, 4, 1250)
	require.Len(t, specs, 4)
	for i, spec := range specs {
		assert.Equal(t, "token", spec.Kind)
		assert.Equal(t, i, spec.Index)
		assert.Equal(t, 4, spec.Of)
	}
}

func TestPlanPartitionsTruncatedEstimate(t *testing.T) {
	// The walk stopped early, so the prefix census is partial. Prefix
	// slicing still applies; unseen prefixes go to the catch-all.
	est := estimateResult{count: 10001, exceeded: true, prefixes: map[string]int{"a": 5000, "b": 5001}}
	specs := planPartitions(est, 4, 5000)
	require.Len(t, specs, 2)
	assert.Equal(t, "prefix", specs[0].Kind)

	unseen := adapters.FileInfo{Path: "/c/later.txt"}
	matched := 0
	for _, spec := range specs {
		if spec.Match(unseen) {
			assert.True(t, spec.Rest)
			matched++
		}
	}
	assert.Equal(t, 1, matched, "unseen prefix must land in exactly one partition")

	owned := adapters.FileInfo{Path: "/b/first.txt"}
	matched = 0
	for _, spec := range specs {
		if spec.Match(owned) {
			matched++
		}
	}
	assert.Equal(t, 1, matched)
}
