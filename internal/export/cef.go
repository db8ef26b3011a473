package export

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openlabels/scanner/internal/config"
)

// CEFSink emits CEF:0 framed events over syslog transport. Plain
// sockets only; QRadar is the sink for TLS raw-socket delivery.
type CEFSink struct {
	cfg      config.SyslogConfig
	hostname string

	mu   sync.Mutex
	conn net.Conn
}

func NewCEFSink(cfg config.SyslogConfig) *CEFSink {
	if cfg.Proto == "" {
		cfg.Proto = "udp"
	}
	host, _ := os.Hostname()
	return &CEFSink{cfg: cfg, hostname: host}
}

func (c *CEFSink) Name() string { return "syslog_cef" }

func (c *CEFSink) ExportBatch(ctx context.Context, records []Record) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dial(ctx); err != nil {
		return 0, err
	}
	for i, r := range records {
		// RFC 3164 style header, facility local0 + severity info.
		line := fmt.Sprintf("<134>%s %s %s\n",
			r.Time.UTC().Format("Jan _2 15:04:05"), c.hostname, cefEncode(r))
		if deadline, ok := ctx.Deadline(); ok {
			c.conn.SetWriteDeadline(deadline)
		} else {
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		}
		if _, err := c.conn.Write([]byte(line)); err != nil {
			c.conn.Close()
			c.conn = nil
			return i, err
		}
	}
	return len(records), nil
}

func (c *CEFSink) TestConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dial(ctx)
}

func (c *CEFSink) dial(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, c.cfg.Proto, addr)
	if err != nil {
		return fmt.Errorf("syslog dial %s: %w", addr, err)
	}
	c.conn = conn
	return nil
}

// cefEncode frames one record as
// CEF:0|OpenLabels|Scanner|2.0|{id}|{name}|{severity}| plus
// space-separated extension pairs with sorted keys.
func cefEncode(r Record) string {
	id := r.Type
	name := "Sensitive Data Finding"
	if v, ok := r.Data["record_type"].(string); ok {
		id = v
	}
	if id == "file_access_event" {
		name = "File Access"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CEF:0|%s|%s|%s|%s|%s|%d|",
		cefHeaderEscape("OpenLabels"), cefHeaderEscape("Scanner"), "2.0",
		cefHeaderEscape(id), cefHeaderEscape(name), severityOf(r))

	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		if k == "record_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("rt=" + r.Time.UTC().Format(time.RFC3339))
	for _, k := range keys {
		b.WriteString(" " + k + "=" + cefExtEscape(stringify(r.Data[k])))
	}
	return b.String()
}

// cefHeaderEscape escapes pipes and backslashes in header fields.
func cefHeaderEscape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "|", `\|`)
	return v
}

// cefExtEscape escapes extension values: backslash, equals and
// newlines.
func cefExtEscape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "=", `\=`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, "\r", `\r`)
	return v
}
