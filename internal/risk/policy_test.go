package risk

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func policy(t *testing.T, name, framework string, cfg interface{}) core.Policy {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return core.Policy{
		ID:        uuid.New(),
		Name:      name,
		Framework: framework,
		RiskLevel: "HIGH",
		Enabled:   true,
		Config:    raw,
	}
}

func TestEvaluateRequiredTypes(t *testing.T) {
	hipaa := policy(t, "PHI record", "HIPAA", policyConfig{
		Triggers: []Trigger{{RequiredTypes: map[string]int{"NAME": 1, "MRN": 1}}},
		Handling: []string{"label"},
	})

	res := Evaluate([]core.Policy{hipaa}, map[string]int{"NAME": 2, "MRN": 1}, nil)
	require.True(t, res.Violated())
	assert.Equal(t, "HIPAA", res.Matches[0].Framework)
	assert.Equal(t, []string{"label"}, res.Matches[0].Handling)

	res = Evaluate([]core.Policy{hipaa}, map[string]int{"NAME": 2}, nil)
	assert.False(t, res.Violated())
}

func TestEvaluateMinCount(t *testing.T) {
	bulk := policy(t, "bulk SSNs", "GDPR", policyConfig{
		Triggers: []Trigger{{RequiredTypes: map[string]int{"SSN": 10}}},
	})
	assert.False(t, Evaluate([]core.Policy{bulk}, map[string]int{"SSN": 9}, nil).Violated())
	assert.True(t, Evaluate([]core.Policy{bulk}, map[string]int{"SSN": 10}, nil).Violated())
}

func TestEvaluateMinConfidence(t *testing.T) {
	p := policy(t, "card data", "PCI-DSS", policyConfig{
		Triggers: []Trigger{{RequiredTypes: map[string]int{"CREDIT_CARD": 1}, MinConfidence: 0.9}},
	})
	counts := map[string]int{"CREDIT_CARD": 1}
	assert.False(t, Evaluate([]core.Policy{p}, counts, map[string]float64{"CREDIT_CARD": 0.5}).Violated())
	assert.True(t, Evaluate([]core.Policy{p}, counts, map[string]float64{"CREDIT_CARD": 0.95}).Violated())
}

func TestEvaluateExcludeIfOnly(t *testing.T) {
	p := policy(t, "contact data", "GDPR", policyConfig{
		Triggers: []Trigger{{
			RequiredTypes: map[string]int{"EMAIL": 1},
			ExcludeIfOnly: []string{"EMAIL"},
		}},
	})
	assert.False(t, Evaluate([]core.Policy{p}, map[string]int{"EMAIL": 5}, nil).Violated())
	assert.True(t, Evaluate([]core.Policy{p}, map[string]int{"EMAIL": 1, "NAME": 1}, nil).Violated())
}

func TestEvaluateMalformedConfigSkipped(t *testing.T) {
	bad := core.Policy{ID: uuid.New(), Name: "broken", Config: json.RawMessage(`{not json`)}
	res := Evaluate([]core.Policy{bad}, map[string]int{"SSN": 1}, nil)
	assert.False(t, res.Violated())
}

func TestEvaluateOneMatchPerPolicy(t *testing.T) {
	p := policy(t, "either", "PCI-DSS", policyConfig{
		Triggers: []Trigger{
			{RequiredTypes: map[string]int{"CREDIT_CARD": 1}},
			{RequiredTypes: map[string]int{"IBAN": 1}},
		},
	})
	res := Evaluate([]core.Policy{p}, map[string]int{"CREDIT_CARD": 1, "IBAN": 1}, nil)
	assert.Len(t, res.Matches, 1)
}
