package export

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openlabels/scanner/internal/config"
)

// SentinelSink posts JSON arrays to the Azure Monitor HTTP Data
// Collector API, signed with the workspace shared key.
type SentinelSink struct {
	cfg    config.SentinelConfig
	client *http.Client
}

func NewSentinelSink(cfg config.SentinelConfig) *SentinelSink {
	if cfg.LogType == "" {
		cfg.LogType = "OpenLabelsScanner"
	}
	return &SentinelSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *SentinelSink) Name() string { return "sentinel" }

func (s *SentinelSink) ExportBatch(ctx context.Context, records []Record) (int, error) {
	docs := make([]map[string]interface{}, len(records))
	for i, r := range records {
		docs[i] = r.Data
	}
	body, err := json.Marshal(docs)
	if err != nil {
		return 0, err
	}
	if err := s.post(ctx, body); err != nil {
		return 0, err
	}
	return len(records), nil
}

// TestConnection posts an empty array; a valid signature returns 200.
func (s *SentinelSink) TestConnection(ctx context.Context) error {
	return s.post(ctx, []byte("[]"))
}

func (s *SentinelSink) post(ctx context.Context, body []byte) error {
	date := time.Now().UTC().Format(http.TimeFormat)
	sig, err := s.sign(len(body), date)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s.ods.opinsights.azure.com/api/logs?api-version=2016-04-01", s.cfg.WorkspaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", s.cfg.WorkspaceID, sig))
	req.Header.Set("Log-Type", s.cfg.LogType)
	req.Header.Set("x-ms-date", date)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sentinel status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// sign builds the SharedKey signature: HMAC-SHA256 over the canonical
// string, keyed with the base64-decoded workspace key.
func (s *SentinelSink) sign(contentLength int, date string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(s.cfg.SharedKey)
	if err != nil {
		return "", fmt.Errorf("sentinel shared key: %w", err)
	}
	stringToSign := fmt.Sprintf("POST\n%d\napplication/json\nx-ms-date:%s\n/api/logs", contentLength, date)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
