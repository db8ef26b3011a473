package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entityTypes(entities []Entity) map[string]bool {
	out := map[string]bool{}
	for _, e := range entities {
		out[e.EntityType] = true
	}
	return out
}

func TestDetectFindsValidatedIdentifiers(t *testing.T) {
	p := NewPipeline(nil)
	text := "Patient record. SSN: 123-45-6789. Card number 4111 1111 1111 1111 on file."

	entities := p.Detect(context.Background(), text)
	types := entityTypes(entities)
	assert.True(t, types["SSN"])
	assert.True(t, types["CREDIT_CARD"])
}

func TestDetectDeduplicatesFormattingVariants(t *testing.T) {
	p := NewPipeline(nil)
	text := "ssn 123-45-6789 appears twice: 123-45-6789"

	entities := p.Detect(context.Background(), text)
	var ssn []Entity
	for _, e := range entities {
		if e.EntityType == "SSN" {
			ssn = append(ssn, e)
		}
	}
	require.Len(t, ssn, 1)
	assert.Equal(t, "123456789", ssn[0].Value)
	assert.Len(t, ssn[0].Mentions, 2)
}

func TestDetectEmptyText(t *testing.T) {
	p := NewPipeline(nil)
	assert.Empty(t, p.Detect(context.Background(), ""))
}

func TestRunPatternsChecksumGate(t *testing.T) {
	// Ambiguous formats that fail their checksum are not hits at all.
	spans := RunPatterns("card 4111111111111112 id 000123456")
	assert.Empty(t, spans)

	spans = RunPatterns("card 4111111111111111")
	require.Len(t, spans, 1)
	assert.Equal(t, "CREDIT_CARD", spans[0].EntityType)
	assert.InDelta(t, 0.92, spans[0].Confidence, 0.001)
}

func TestEnhanceContextHotwords(t *testing.T) {
	text := "test data: 555-123-4567"
	spans := []Span{{Start: 11, End: 23, EntityType: "PHONE", Value: "555-123-4567", Confidence: 0.6, Source: "pattern"}}

	out := EnhanceContext(text, spans)
	// "test" halves confidence below the floor; PHONE is not
	// high-value, so the span is dropped.
	assert.Empty(t, out)

	text = "patient phone: 555-123-4567"
	spans[0].Start, spans[0].End = 15, 27
	out = EnhanceContext(text, spans)
	assert.Len(t, out, 1)
	assert.Greater(t, out[0].Confidence, 0.6)
}

func TestEnhanceContextKeepsHighValueBelowFloor(t *testing.T) {
	text := "sample 123-45-6789"
	spans := []Span{{Start: 7, End: 18, EntityType: "SSN", Value: "123-45-6789", Confidence: 0.9, Source: "pattern"}}

	out := EnhanceContext(text, spans)
	assert.Len(t, out, 1)
	assert.InDelta(t, 0.45, out[0].Confidence, 0.011)
}

func TestMergeOverlapsKeepsStrongest(t *testing.T) {
	spans := []Span{
		{Start: 0, End: 9, EntityType: "SSN", Confidence: 0.9},
		{Start: 0, End: 9, EntityType: "MRN", Confidence: 0.4},
		{Start: 20, End: 29, EntityType: "EMAIL", Confidence: 0.9},
	}
	out := MergeOverlaps(spans)
	assert.Len(t, out, 2)
	assert.Equal(t, "SSN", out[0].EntityType)
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, "NAME", NormalizeType("PERSON"))
	assert.Equal(t, "SSN", NormalizeType("social_security_number"))
	assert.Equal(t, "CUSTOM_TYPE", NormalizeType(" custom_type "))
}
