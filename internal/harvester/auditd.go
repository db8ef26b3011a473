package harvester

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openlabels/scanner/internal/core"
)

// AuditdProvider tails the Linux audit log for file watch events. It
// expects watch rules keyed ol_read / ol_write / ol_create / ol_delete /
// ol_rename; SYSCALL records carry the key, user and process, the
// paired PATH records carry the file name.
type AuditdProvider struct {
	logPath string
}

// NewAuditdProvider reads from logPath, typically
// /var/log/audit/audit.log.
func NewAuditdProvider(logPath string) *AuditdProvider {
	return &AuditdProvider{logPath: logPath}
}

func (p *AuditdProvider) Name() string { return "auditd" }

var auditMsgRe = regexp.MustCompile(`msg=audit\((\d+)\.(\d+):(\d+)\)`)

// keyActions maps audit rule keys to access actions.
var keyActions = map[string]core.AccessAction{
	"ol_read":   core.ActionRead,
	"ol_write":  core.ActionWrite,
	"ol_create": core.ActionCreate,
	"ol_delete": core.ActionDelete,
	"ol_rename": core.ActionRename,
}

// auditRecord accumulates one audit event across its SYSCALL and PATH
// lines, which share an audit id.
type auditRecord struct {
	time    time.Time
	action  core.AccessAction
	user    string
	process string
	paths   []string
	keyed   bool
}

// Harvest re-reads the log and returns events strictly newer than
// since. The log file is the durable buffer; the caller's committed
// cursor makes the re-read idempotent.
func (p *AuditdProvider) Harvest(ctx context.Context, since time.Time) ([]RawAccessEvent, time.Time, error) {
	f, err := os.Open(p.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, since, nil
		}
		return nil, since, core.Transient("audit log open failed", err)
	}
	defer f.Close()

	records := map[string]*auditRecord{}
	var order []string

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil, since, ctx.Err()
		}
		line := sc.Text()
		m := auditMsgRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		sec, _ := strconv.ParseInt(m[1], 10, 64)
		msec, _ := strconv.ParseInt(m[2], 10, 64)
		ts := time.Unix(sec, msec*int64(time.Millisecond)).UTC()
		if !ts.After(since) {
			continue
		}
		id := m[3]
		rec, ok := records[id]
		if !ok {
			rec = &auditRecord{time: ts}
			records[id] = rec
			order = append(order, id)
		}

		fields := parseAuditFields(line)
		switch fields["type"] {
		case "SYSCALL":
			if action, ok := keyActions[fields["key"]]; ok {
				rec.action = action
				rec.keyed = true
			}
			if v := fields["comm"]; v != "" {
				rec.process = v
			}
			if v := fields["AUID"]; v != "" && v != "unset" {
				rec.user = v
			} else if v := fields["auid"]; v != "" {
				rec.user = v
			}
		case "PATH":
			name := fields["name"]
			if name == "" || name == "(null)" {
				break
			}
			rec.paths = append(rec.paths, name)
			// nametype refines the action for create/delete.
			switch fields["nametype"] {
			case "CREATE":
				rec.action = core.ActionCreate
				rec.keyed = true
			case "DELETE":
				rec.action = core.ActionDelete
				rec.keyed = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, since, core.Transient("audit log read failed", err)
	}

	var out []RawAccessEvent
	cursor := since
	for _, id := range order {
		rec := records[id]
		if !rec.keyed || len(rec.paths) == 0 {
			continue
		}
		if rec.time.After(cursor) {
			cursor = rec.time
		}
		// The last PATH item is the resolved target of the syscall.
		out = append(out, RawAccessEvent{
			FilePath:    rec.paths[len(rec.paths)-1],
			Action:      rec.action,
			UserName:    rec.user,
			ProcessName: rec.process,
			EventTime:   rec.time,
		})
	}
	return out, cursor, nil
}

// parseAuditFields splits an audit line into key=value pairs, handling
// quoted values. Hex-encoded names are left as-is.
func parseAuditFields(line string) map[string]string {
	fields := map[string]string{}
	for len(line) > 0 {
		line = strings.TrimLeft(line, " ")
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			break
		}
		key := line[:eq]
		if sp := strings.LastIndexByte(key, ' '); sp >= 0 {
			key = key[sp+1:]
		}
		rest := line[eq+1:]
		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				break
			}
			val = rest[1 : end+1]
			line = rest[end+2:]
		} else {
			end := strings.IndexByte(rest, ' ')
			if end < 0 {
				val = rest
				line = ""
			} else {
				val = rest[:end]
				line = rest[end+1:]
			}
		}
		fields[key] = val
	}
	return fields
}
