package harvester

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

const auditLogSample = `type=SYSCALL msg=audit(1740000100.123:501): arch=c000003e syscall=257 success=yes exit=3 comm="vim" AUID="alice" key="ol_write"
type=PATH msg=audit(1740000100.123:501): item=0 name="/srv/share" nametype=PARENT
type=PATH msg=audit(1740000100.123:501): item=1 name="/srv/share/payroll.csv" nametype=NORMAL
type=SYSCALL msg=audit(1740000200.456:502): arch=c000003e syscall=87 success=yes exit=0 comm="rm" AUID="bob" key="ol_delete"
type=PATH msg=audit(1740000200.456:502): item=0 name="/srv/share/old.txt" nametype=DELETE
type=SYSCALL msg=audit(1740000300.000:503): arch=c000003e syscall=2 success=yes exit=4 comm="cat" AUID="unset" auid="4294967295" key="backup_job"
type=PATH msg=audit(1740000300.000:503): item=0 name="/etc/hosts" nametype=NORMAL
`

func writeAuditLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAuditdHarvest(t *testing.T) {
	p := NewAuditdProvider(writeAuditLog(t, auditLogSample))

	events, cursor, err := p.Harvest(context.Background(), time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, events, 2)

	// The last PATH item is the resolved target.
	assert.Equal(t, "/srv/share/payroll.csv", events[0].FilePath)
	assert.Equal(t, core.ActionWrite, events[0].Action)
	assert.Equal(t, "alice", events[0].UserName)
	assert.Equal(t, "vim", events[0].ProcessName)
	assert.Equal(t, time.Unix(1740000100, 123*int64(time.Millisecond)).UTC(), events[0].EventTime)

	assert.Equal(t, "/srv/share/old.txt", events[1].FilePath)
	assert.Equal(t, core.ActionDelete, events[1].Action)
	assert.Equal(t, "bob", events[1].UserName)

	// The cursor lands on the newest keyed record.
	assert.Equal(t, events[1].EventTime, cursor)
}

func TestAuditdHarvestSinceFilter(t *testing.T) {
	p := NewAuditdProvider(writeAuditLog(t, auditLogSample))
	since := time.Unix(1740000100, 123*int64(time.Millisecond)).UTC()

	events, cursor, err := p.Harvest(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "/srv/share/old.txt", events[0].FilePath)
	assert.True(t, cursor.After(since))
}

func TestAuditdHarvestUnkeyedRecordsSkipped(t *testing.T) {
	log := `type=SYSCALL msg=audit(1740000400.000:601): comm="cron" AUID="root" key=(null)
type=PATH msg=audit(1740000400.000:601): item=0 name="/var/spool/cron" nametype=NORMAL
`
	p := NewAuditdProvider(writeAuditLog(t, log))
	events, cursor, err := p.Harvest(context.Background(), time.Unix(0, 0))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, time.Unix(0, 0), cursor)
}

func TestAuditdHarvestMissingLog(t *testing.T) {
	p := NewAuditdProvider(filepath.Join(t.TempDir(), "missing.log"))
	since := time.Unix(1740000000, 0)
	events, cursor, err := p.Harvest(context.Background(), since)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, since, cursor)
}

func TestParseAuditFields(t *testing.T) {
	fields := parseAuditFields(`type=SYSCALL msg=audit(1.2:3): comm="my editor" AUID="alice" key="ol_read"`)
	assert.Equal(t, "SYSCALL", fields["type"])
	assert.Equal(t, "my editor", fields["comm"])
	assert.Equal(t, "alice", fields["AUID"])
	assert.Equal(t, "ol_read", fields["key"])
}
