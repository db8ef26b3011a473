package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openlabels/scanner/internal/config"
)

// SplunkSink delivers through the HTTP Event Collector. Batches go as
// newline-delimited event envelopes in a single POST, capped at 500
// events per request by the engine's chunking.
type SplunkSink struct {
	cfg    config.SplunkConfig
	client *http.Client
}

func NewSplunkSink(cfg config.SplunkConfig) *SplunkSink {
	if cfg.SourceType == "" {
		cfg.SourceType = "openlabels:scanner"
	}
	return &SplunkSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *SplunkSink) Name() string { return "splunk" }

type hecEnvelope struct {
	Event      map[string]interface{} `json:"event"`
	Time       float64                `json:"time"`
	SourceType string                 `json:"sourcetype"`
	Index      string                 `json:"index,omitempty"`
	Source     string                 `json:"source"`
}

func (s *SplunkSink) ExportBatch(ctx context.Context, records []Record) (int, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		env := hecEnvelope{
			Event:      r.Data,
			Time:       float64(r.Time.UnixMilli()) / 1000.0,
			SourceType: s.cfg.SourceType,
			Index:      s.cfg.Index,
			Source:     "openlabels-scanner",
		}
		if err := enc.Encode(env); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.HECURL+"/services/collector/event", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("splunk hec status %d: %s", resp.StatusCode, msg)
	}
	return len(records), nil
}

// TestConnection hits the HEC health endpoint.
func (s *SplunkSink) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.HECURL+"/services/collector/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("splunk hec health status %d", resp.StatusCode)
	}
	return nil
}
