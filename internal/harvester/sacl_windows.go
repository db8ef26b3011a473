//go:build windows

package harvester

import (
	"context"
	"encoding/xml"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/openlabels/scanner/internal/core"
)

// SACLProvider reads Windows Security log entries generated by SACL
// auditing (event 4663, object access) via wevtutil.
type SACLProvider struct{}

func NewSACLProvider() *SACLProvider { return &SACLProvider{} }

func (p *SACLProvider) Name() string { return "windows_sacl" }

type winEvents struct {
	Events []winEvent `xml:"Event"`
}

type winEvent struct {
	System struct {
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
	} `xml:"System"`
	EventData struct {
		Data []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"EventData"`
}

// Harvest queries events newer than since from the Security channel.
func (p *SACLProvider) Harvest(ctx context.Context, since time.Time) ([]RawAccessEvent, time.Time, error) {
	ms := time.Since(since).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	query := "*[System[(EventID=4663) and TimeCreated[timediff(@SystemTime) <= " + strconv.FormatInt(ms, 10) + "]]]"
	out, err := exec.CommandContext(ctx, "wevtutil", "qe", "Security", "/q:"+query, "/f:xml", "/e:Events").Output()
	if err != nil {
		return nil, since, core.Transient("wevtutil query failed", err)
	}

	var parsed winEvents
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return nil, since, core.Transient("security log parse failed", err)
	}

	var events []RawAccessEvent
	cursor := since
	for _, ev := range parsed.Events {
		ts, err := time.Parse(time.RFC3339Nano, ev.System.TimeCreated.SystemTime)
		if err != nil || !ts.After(since) {
			continue
		}
		fields := map[string]string{}
		for _, d := range ev.EventData.Data {
			fields[d.Name] = d.Value
		}
		if fields["ObjectType"] != "File" {
			continue
		}
		if ts.After(cursor) {
			cursor = ts
		}
		events = append(events, RawAccessEvent{
			FilePath:    fields["ObjectName"],
			Action:      accessMaskAction(fields["AccessMask"]),
			UserName:    fields["SubjectUserName"],
			ProcessName: fields["ProcessName"],
			EventTime:   ts.UTC(),
		})
	}
	return events, cursor, nil
}

// accessMaskAction maps the 4663 access mask to an action. Write bits
// win over read bits; delete is its own bit.
func accessMaskAction(mask string) core.AccessAction {
	v, err := strconv.ParseUint(strings.TrimPrefix(mask, "0x"), 16, 64)
	if err != nil {
		return core.ActionRead
	}
	switch {
	case v&0x10000 != 0: // DELETE
		return core.ActionDelete
	case v&0x2 != 0 || v&0x4 != 0: // WriteData / AppendData
		return core.ActionWrite
	default:
		return core.ActionRead
	}
}
