package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openlabels/scanner/internal/core"
)

func TestScoreEmpty(t *testing.T) {
	assert.Zero(t, Score(nil, core.ExposurePrivate))
	assert.Zero(t, Score(map[string]int{}, core.ExposurePublic))
}

func TestScoreWeightsAndCap(t *testing.T) {
	// One SSN in a private file: base weight only.
	assert.InDelta(t, 26, Score(map[string]int{"SSN": 1}, core.ExposurePrivate), 0.001)

	// Volume saturates at 100.
	assert.InDelta(t, 100, Score(map[string]int{"SSN": 50}, core.ExposurePrivate), 0.001)
}

func TestScoreTwoSSNsIsHigh(t *testing.T) {
	// Two SSNs in a private file must land in the HIGH tier on their own.
	score := Score(map[string]int{"SSN": 2}, core.ExposurePrivate)
	assert.GreaterOrEqual(t, score, 51.0)
	assert.Equal(t, core.TierHigh, TierFor(score))
}

func TestScoreCoOccurrence(t *testing.T) {
	// NAME+SSN+DOB is the strongest identity rule and wins over the
	// weaker NAME+SSN rule.
	counts := map[string]int{"NAME": 1, "SSN": 1, "DOB": 1}
	want := (4.0 + 26.0 + 8.0) * 1.5
	assert.InDelta(t, want, Score(counts, core.ExposurePrivate), 0.001)

	counts = map[string]int{"NAME": 1, "SSN": 1}
	assert.InDelta(t, (4.0+26.0)*1.3, Score(counts, core.ExposurePrivate), 0.001)
}

func TestScoreExposureMultiplier(t *testing.T) {
	counts := map[string]int{"EMAIL": 2}
	private := Score(counts, core.ExposurePrivate)
	public := Score(counts, core.ExposurePublic)
	assert.InDelta(t, private*2, public, 0.001)
}

func TestTierBoundaries(t *testing.T) {
	assert.Equal(t, core.TierMinimal, TierFor(0))
	assert.Equal(t, core.TierMinimal, TierFor(10))
	assert.Equal(t, core.TierLow, TierFor(10.1))
	assert.Equal(t, core.TierLow, TierFor(25))
	assert.Equal(t, core.TierMedium, TierFor(50))
	assert.Equal(t, core.TierHigh, TierFor(80))
	assert.Equal(t, core.TierCritical, TierFor(80.1))
	assert.Equal(t, core.TierCritical, TierFor(100))
}
