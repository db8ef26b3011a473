package orchestrator

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/openlabels/scanner/internal/adapters"
)

// PartitionSpec describes which slice of a target a partition covers.
// Two kinds: "prefix" pins a set of top-level path prefixes, "token"
// takes every path whose hash lands in this partition's residue class.
// One prefix partition carries Rest: it also claims every prefix the
// bounded estimate never saw, so no path falls between partitions.
type PartitionSpec struct {
	Kind     string   `json:"kind"`
	Prefixes []string `json:"prefixes,omitempty"`
	Rest     bool     `json:"rest,omitempty"`
	Exclude  []string `json:"exclude,omitempty"` // prefixes owned by other partitions
	Index    int      `json:"index"`
	Of       int      `json:"of"`
}

// Match reports whether fi belongs to this partition.
func (s PartitionSpec) Match(fi adapters.FileInfo) bool {
	switch s.Kind {
	case "prefix":
		p := topPrefix(fi.Path)
		for _, want := range s.Prefixes {
			if p == want {
				return true
			}
		}
		if s.Rest {
			for _, claimed := range s.Exclude {
				if p == claimed {
					return false
				}
			}
			return true
		}
		return false
	case "token":
		if s.Of <= 0 {
			return true
		}
		h := fnv.New32a()
		h.Write([]byte(fi.Path))
		return int(h.Sum32())%s.Of == s.Index
	default:
		return true
	}
}

// estimate enumerates up to limit+1 files, collecting per-top-prefix
// counts for partition planning. exceeded is true when the target holds
// more files than limit.
type estimateResult struct {
	count    int
	exceeded bool
	prefixes map[string]int
}

func estimate(ctx context.Context, adapter adapters.StorageAdapter, limit int) (estimateResult, error) {
	res := estimateResult{prefixes: map[string]int{}}
	files, errc := adapter.Enumerate(ctx, "")
	for fi := range files {
		res.count++
		res.prefixes[topPrefix(fi.Path)]++
		if res.count > limit {
			res.exceeded = true
			break
		}
	}
	if res.exceeded {
		// Stop the walk; drain is the producer's job once ctx ends.
		return res, nil
	}
	if err := <-errc; err != nil {
		return res, err
	}
	return res, nil
}

// planPartitions turns an estimate into partition specs. The partition
// count is min(maxPartitions, ceil(count/targetSize)), never below 2.
// Prefix slicing is preferred when the sampled prefixes spread the
// data; otherwise hash tokens split uniformly. The estimate count is a
// lower bound when the walk stopped early, so the last prefix
// partition catches every prefix outside the sample.
func planPartitions(est estimateResult, maxPartitions, targetSize int) []PartitionSpec {
	if maxPartitions < 2 {
		maxPartitions = 2
	}
	if targetSize <= 0 {
		targetSize = 5000
	}
	groups := (est.count + targetSize - 1) / targetSize
	if groups > maxPartitions {
		groups = maxPartitions
	}
	if groups < 2 {
		groups = 2
	}

	n := len(est.prefixes)
	if n >= 2 {
		if groups > n {
			groups = n
		}
		prefixes := make([]string, 0, n)
		for p := range est.prefixes {
			prefixes = append(prefixes, p)
		}
		sort.Strings(prefixes)

		specs := make([]PartitionSpec, groups)
		for i := range specs {
			specs[i] = PartitionSpec{Kind: "prefix", Index: i, Of: groups}
		}
		// Round-robin over size-sorted prefixes keeps groups balanced.
		sort.SliceStable(prefixes, func(i, j int) bool {
			return est.prefixes[prefixes[i]] > est.prefixes[prefixes[j]]
		})
		for i, p := range prefixes {
			g := i % groups
			specs[g].Prefixes = append(specs[g].Prefixes, p)
		}

		last := &specs[groups-1]
		last.Rest = true
		for i := 0; i < groups-1; i++ {
			last.Exclude = append(last.Exclude, specs[i].Prefixes...)
		}
		sort.Strings(last.Exclude)
		return specs
	}

	specs := make([]PartitionSpec, groups)
	for i := range specs {
		specs[i] = PartitionSpec{Kind: "token", Index: i, Of: groups}
	}
	return specs
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// topPrefix returns the first path segment, the unit of prefix slicing.
func topPrefix(path string) string {
	path = strings.TrimLeft(path, "/\\")
	if i := strings.IndexAny(path, "/\\"); i >= 0 {
		return path[:i]
	}
	return path
}
