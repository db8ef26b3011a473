package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openlabels/scanner/internal/config"
)

// ElasticSink indexes through the _bulk API into daily indices named
// {prefix}-{type}-YYYY.MM.DD.
type ElasticSink struct {
	cfg    config.ElasticConfig
	client *http.Client
}

func NewElasticSink(cfg config.ElasticConfig) *ElasticSink {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "openlabels"
	}
	return &ElasticSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *ElasticSink) Name() string { return "elastic" }

func (e *ElasticSink) ExportBatch(ctx context.Context, records []Record) (int, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		action := map[string]map[string]string{
			"index": {"_index": e.indexFor(r)},
		}
		if err := enc.Encode(action); err != nil {
			return 0, err
		}
		if err := enc.Encode(e.document(r)); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(e.cfg.URL, "/")+"/_bulk", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("elastic bulk status %d: %s", resp.StatusCode, msg)
	}

	var bulk struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulk); err != nil {
		return 0, fmt.Errorf("elastic bulk response: %w", err)
	}
	if !bulk.Errors {
		return len(records), nil
	}
	sent := 0
	for _, item := range bulk.Items {
		for _, op := range item {
			if op.Status >= 200 && op.Status < 300 {
				sent++
			}
		}
	}
	return sent, fmt.Errorf("elastic bulk: %d of %d items rejected", len(records)-sent, len(records))
}

// TestConnection checks cluster reachability and credentials.
func (e *ElasticSink) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(e.cfg.URL, "/")+"/", nil)
	if err != nil {
		return err
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+e.cfg.APIKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elastic status %d", resp.StatusCode)
	}
	return nil
}

func (e *ElasticSink) indexFor(r Record) string {
	return fmt.Sprintf("%s-%s-%s", e.cfg.IndexPrefix, r.Type, r.Time.UTC().Format("2006.01.02"))
}

// document adds the ECS-style envelope fields on top of the flat data.
func (e *ElasticSink) document(r Record) map[string]interface{} {
	doc := make(map[string]interface{}, len(r.Data)+2)
	for k, v := range r.Data {
		doc[k] = v
	}
	doc["@timestamp"] = r.Time.UTC().Format(time.RFC3339Nano)
	doc["event"] = map[string]string{
		"kind":    "event",
		"dataset": "openlabels." + r.Type,
	}
	return doc
}
