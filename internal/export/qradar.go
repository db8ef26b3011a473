package export

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openlabels/scanner/internal/config"
)

// QRadarSink writes LEEF 2.0 events over a raw TCP or UDP socket,
// optionally TLS-wrapped. The connection is dialed lazily and redialed
// after any write error.
type QRadarSink struct {
	cfg config.QRadarConfig

	mu   sync.Mutex
	conn net.Conn
}

func NewQRadarSink(cfg config.QRadarConfig) *QRadarSink {
	if cfg.Proto == "" {
		cfg.Proto = "tcp"
	}
	return &QRadarSink{cfg: cfg}
}

func (q *QRadarSink) Name() string { return "qradar" }

func (q *QRadarSink) ExportBatch(ctx context.Context, records []Record) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.dial(ctx); err != nil {
		return 0, err
	}
	for i, r := range records {
		line := leefEncode(r) + "\n"
		if deadline, ok := ctx.Deadline(); ok {
			q.conn.SetWriteDeadline(deadline)
		} else {
			q.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		}
		if _, err := q.conn.Write([]byte(line)); err != nil {
			q.conn.Close()
			q.conn = nil
			return i, err
		}
	}
	return len(records), nil
}

func (q *QRadarSink) TestConnection(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dial(ctx)
}

func (q *QRadarSink) dial(ctx context.Context) error {
	if q.conn != nil {
		return nil
	}
	addr := net.JoinHostPort(q.cfg.Host, fmt.Sprintf("%d", q.cfg.Port))
	d := net.Dialer{Timeout: 10 * time.Second}
	var (
		conn net.Conn
		err  error
	)
	if q.cfg.UseTLS {
		conn, err = tls.DialWithDialer(&d, q.cfg.Proto, addr, &tls.Config{ServerName: q.cfg.Host})
	} else {
		conn, err = d.DialContext(ctx, q.cfg.Proto, addr)
	}
	if err != nil {
		return fmt.Errorf("qradar dial %s: %w", addr, err)
	}
	q.conn = conn
	return nil
}

// leefEncode frames one record as
// LEEF:2.0|OpenLabels|Scanner|2.0|{eventId}| followed by tab-separated
// key=value attribute pairs with sorted keys.
func leefEncode(r Record) string {
	eventID := r.Type
	if v, ok := r.Data["record_type"].(string); ok {
		eventID = v
	}
	var b strings.Builder
	fmt.Fprintf(&b, "LEEF:2.0|OpenLabels|Scanner|2.0|%s|", eventID)

	keys := make([]string, 0, len(r.Data)+2)
	for k := range r.Data {
		if k == "record_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("\tdevTime=" + r.Time.UTC().Format(time.RFC3339))
	b.WriteString("\tsev=" + fmt.Sprintf("%d", severityOf(r)))
	for _, k := range keys {
		b.WriteString("\t" + k + "=" + leefEscape(stringify(r.Data[k])))
	}
	return b.String()
}

// leefEscape escapes the characters that break LEEF attribute parsing.
func leefEscape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\t", `\t`)
	v = strings.ReplaceAll(v, "=", `\=`)
	return v
}

// stringify renders an attribute value; nested structures go as JSON.
func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", x)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(raw)
	}
}
