package risk

import (
	"encoding/json"

	"github.com/openlabels/scanner/internal/core"
)

// Trigger is one firing condition inside a policy config. All listed
// types must be present at their minimum counts.
type Trigger struct {
	RequiredTypes map[string]int `json:"required_types"` // type -> min_count
	MinConfidence float64        `json:"min_confidence"`
	ExcludeIfOnly []string       `json:"exclude_if_only"`
}

// policyConfig is the shape of core.Policy.Config.
type policyConfig struct {
	Triggers []Trigger `json:"triggers"`
	Handling []string  `json:"handling"` // remediation requirements: quarantine, label, notify
}

// Match is one fired policy.
type Match struct {
	PolicyID  string   `json:"policy_id"`
	Name      string   `json:"name"`
	Framework string   `json:"framework"`
	Severity  string   `json:"severity"`
	Handling  []string `json:"handling,omitempty"`
}

// PolicyResult lists every policy that fired for one file.
type PolicyResult struct {
	Matches []Match `json:"matches"`
}

// Violated reports whether any policy fired.
func (r PolicyResult) Violated() bool { return len(r.Matches) > 0 }

// Evaluate runs every enabled policy against the detection output.
// Pure function: no I/O, no clock.
func Evaluate(policies []core.Policy, entityCounts map[string]int, maxConfidence map[string]float64) PolicyResult {
	var result PolicyResult
	for _, p := range policies {
		var cfg policyConfig
		if err := json.Unmarshal(p.Config, &cfg); err != nil {
			continue // malformed policy config never blocks scanning
		}
		for _, t := range cfg.Triggers {
			if fires(t, entityCounts, maxConfidence) {
				result.Matches = append(result.Matches, Match{
					PolicyID:  p.ID.String(),
					Name:      p.Name,
					Framework: p.Framework,
					Severity:  p.RiskLevel,
					Handling:  cfg.Handling,
				})
				break // one match per policy
			}
		}
	}
	return result
}

func fires(t Trigger, counts map[string]int, maxConf map[string]float64) bool {
	if len(t.RequiredTypes) == 0 {
		return false
	}
	for typ, min := range t.RequiredTypes {
		if min <= 0 {
			min = 1
		}
		if counts[typ] < min {
			return false
		}
		if t.MinConfidence > 0 && maxConf[typ] < t.MinConfidence {
			return false
		}
	}
	// A trigger cannot fire when its sole detected type is excluded.
	if len(counts) == 1 {
		for _, excluded := range t.ExcludeIfOnly {
			if counts[excluded] > 0 {
				return false
			}
		}
	}
	return true
}
