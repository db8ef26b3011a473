package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/config"
)

func TestSentinelSign(t *testing.T) {
	sink := NewSentinelSink(config.SentinelConfig{
		WorkspaceID: "ws-1",
		SharedKey:   "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=",
	})

	sig, err := sink.sign(2, "Mon, 24 Aug 2026 12:00:00 GMT")
	require.NoError(t, err)
	assert.Equal(t, "sAMIQRacXavSICU5T2OxQv2n1RDXiEm4U5hfM5bUK+M=", sig)
}

func TestSentinelSignChangesWithInput(t *testing.T) {
	sink := NewSentinelSink(config.SentinelConfig{
		SharedKey: "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=",
	})
	a, err := sink.sign(2, "Mon, 24 Aug 2026 12:00:00 GMT")
	require.NoError(t, err)
	b, err := sink.sign(3, "Mon, 24 Aug 2026 12:00:00 GMT")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSentinelSignRejectsBadKey(t *testing.T) {
	sink := NewSentinelSink(config.SentinelConfig{SharedKey: "not base64!!"})
	_, err := sink.sign(0, "date")
	assert.Error(t, err)
}

func TestSentinelDefaultLogType(t *testing.T) {
	sink := NewSentinelSink(config.SentinelConfig{})
	assert.Equal(t, "OpenLabelsScanner", sink.cfg.LogType)
}
