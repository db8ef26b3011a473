package export

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/config"
)

func TestSplunkExportBatch(t *testing.T) {
	var gotPath, gotAuth string
	var envelopes []hecEnvelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var env hecEnvelope
			require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
			envelopes = append(envelopes, env)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSplunkSink(config.SplunkConfig{
		HECURL: srv.URL,
		Token:  "hec-token",
		Index:  "security",
	})

	records := []Record{
		{Type: RecordScanResult, Time: time.Unix(1740000000, 500000000), Data: map[string]interface{}{"file_path": "/a"}},
		{Type: RecordScanResult, Time: time.Unix(1740000001, 0), Data: map[string]interface{}{"file_path": "/b"}},
	}
	sent, err := sink.ExportBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	assert.Equal(t, "/services/collector/event", gotPath)
	assert.Equal(t, "Bearer hec-token", gotAuth)
	require.Len(t, envelopes, 2)
	assert.Equal(t, "/a", envelopes[0].Event["file_path"])
	assert.InDelta(t, 1740000000.5, envelopes[0].Time, 0.001)
	assert.Equal(t, "openlabels:scanner", envelopes[0].SourceType)
	assert.Equal(t, "security", envelopes[0].Index)
	assert.Equal(t, "openlabels-scanner", envelopes[0].Source)
}

func TestSplunkExportBatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusForbidden)
	}))
	defer srv.Close()

	sink := NewSplunkSink(config.SplunkConfig{HECURL: srv.URL, Token: "bad"})
	sent, err := sink.ExportBatch(context.Background(), []Record{{Data: map[string]interface{}{}}})
	assert.Zero(t, sent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSplunkTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/collector/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSplunkSink(config.SplunkConfig{HECURL: srv.URL, Token: "t"})
	assert.NoError(t, sink.TestConnection(context.Background()))
}
