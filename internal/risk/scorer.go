// Package risk maps detection output to a risk score and evaluates
// tenant policies against it. Everything here is pure: weights,
// multipliers and thresholds are data, not code.
package risk

import (
	"github.com/openlabels/scanner/internal/core"
)

// entityWeights is the per-type base weight.
var entityWeights = map[string]float64{
	"SSN":                 26,
	"CREDIT_CARD":         22,
	"NPI":                 18,
	"MRN":                 18,
	"IBAN":                16,
	"BANK_ACCOUNT_NUMBER": 16,
	"ABA_ROUTING":         12,
	"PASSPORT":            15,
	"DRIVER_LICENSE":      12,
	"DOB":                 8,
	"NAME":                4,
	"ADDRESS":             5,
	"EMAIL":               3,
	"PHONE":               3,
	"IP_ADDRESS":          2,
	"VIN":                 6,
	"ICD10":               10,
	"DIAGNOSIS":           12,

	"AWS_ACCESS_KEY":      20,
	"AWS_SECRET_KEY":      28,
	"PRIVATE_KEY":         30,
	"GITHUB_TOKEN":        22,
	"SLACK_TOKEN":         15,
	"JWT":                 12,
	"BEARER_TOKEN":        10,
	"API_KEY_ASSIGNMENT":  14,
	"PASSWORD_ASSIGNMENT": 12,
	"CONNECTION_STRING":   24,
}

// coRule boosts the score when identity fragments co-occur: a name next
// to an SSN and a birth date is a full identity record.
type coRule struct {
	types      []string
	multiplier float64
}

var coOccurrenceRules = []coRule{
	{[]string{"NAME", "SSN", "DOB"}, 1.5},
	{[]string{"NAME", "SSN"}, 1.3},
	{[]string{"NAME", "CREDIT_CARD"}, 1.3},
	{[]string{"NAME", "MRN"}, 1.35},
	{[]string{"NAME", "DIAGNOSIS"}, 1.4},
	{[]string{"ABA_ROUTING", "BANK_ACCOUNT_NUMBER"}, 1.4},
}

var exposureMultipliers = map[core.ExposureLevel]float64{
	core.ExposurePrivate:  1.0,
	core.ExposureInternal: 1.1,
	core.ExposureOrgWide:  1.5,
	core.ExposurePublic:   2.0,
}

// tierThresholds maps score upper bounds to tiers, checked in order.
var tierThresholds = []struct {
	upper float64
	tier  core.RiskTier
}{
	{10, core.TierMinimal},
	{25, core.TierLow},
	{50, core.TierMedium},
	{80, core.TierHigh},
	{100, core.TierCritical},
}

// Score aggregates entity counts into a [0,100] score.
func Score(entityCounts map[string]int, exposure core.ExposureLevel) float64 {
	if len(entityCounts) == 0 {
		return 0
	}

	var score float64
	for t, n := range entityCounts {
		score += entityWeights[t] * float64(n)
	}

	for _, rule := range coOccurrenceRules {
		all := true
		for _, t := range rule.types {
			if entityCounts[t] == 0 {
				all = false
				break
			}
		}
		if all {
			score *= rule.multiplier
			break // strongest matching rule only; rules are ordered
		}
	}

	if m, ok := exposureMultipliers[exposure]; ok {
		score *= m
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// TierFor maps a score through the tier table.
func TierFor(score float64) core.RiskTier {
	for _, t := range tierThresholds {
		if score <= t.upper {
			return t.tier
		}
	}
	return core.TierCritical
}
