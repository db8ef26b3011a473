package harvester

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/openlabels/scanner/internal/core"
)

// M365Provider pulls SharePoint/OneDrive file activity from the Office
// 365 Management Activity API: list content blobs for the window since
// the cursor, fetch each blob, map file operations to access events.
type M365Provider struct {
	m365Tenant string
	http       *http.Client
}

const m365BaseURL = "https://manage.office.com/api/v1.0"

// m365ContentTypes are the audit feeds carrying file operations.
var m365ContentTypes = []string{"Audit.SharePoint", "Audit.OneDrive"}

// NewM365Provider builds an app-only client for the given M365 tenant.
func NewM365Provider(m365Tenant, clientID, clientSecret string) *M365Provider {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", m365Tenant),
		Scopes:       []string{"https://manage.office.com/.default"},
	}
	client := cc.Client(context.Background())
	client.Timeout = 60 * time.Second
	return &M365Provider{m365Tenant: m365Tenant, http: client}
}

func (p *M365Provider) Name() string { return "m365" }

type m365Content struct {
	ContentURI     string `json:"contentUri"`
	ContentCreated string `json:"contentCreated"`
}

type m365Record struct {
	CreationTime   string `json:"CreationTime"`
	Operation      string `json:"Operation"`
	UserID         string `json:"UserId"`
	ObjectID       string `json:"ObjectId"`
	ClientAppName  string `json:"ApplicationDisplayName"`
	SourceFileName string `json:"SourceFileName"`
}

// m365Operations maps audit operations to access actions. Operations
// outside the map are not file activity and are skipped.
var m365Operations = map[string]core.AccessAction{
	"FileAccessed":   core.ActionRead,
	"FileDownloaded": core.ActionRead,
	"FilePreviewed":  core.ActionRead,
	"FileModified":   core.ActionWrite,
	"FileCheckedIn":  core.ActionWrite,
	"FileUploaded":   core.ActionCreate,
	"FileCopied":     core.ActionCreate,
	"FileDeleted":    core.ActionDelete,
	"FileRecycled":   core.ActionDelete,
	"FileRenamed":    core.ActionRename,
	"FileMoved":      core.ActionRename,
}

// Harvest lists and fetches audit content created after since. The API
// serves at most 24h per listing call, so the window is clamped.
func (p *M365Provider) Harvest(ctx context.Context, since time.Time) ([]RawAccessEvent, time.Time, error) {
	now := time.Now().UTC()
	if since.IsZero() || now.Sub(since) > 24*time.Hour {
		since = now.Add(-24 * time.Hour)
	}

	var out []RawAccessEvent
	cursor := since
	for _, contentType := range m365ContentTypes {
		contents, err := p.listContent(ctx, contentType, since, now)
		if err != nil {
			return nil, since, err
		}
		for _, c := range contents {
			records, err := p.fetchContent(ctx, c.ContentURI)
			if err != nil {
				return nil, since, err
			}
			for _, r := range records {
				action, ok := m365Operations[r.Operation]
				if !ok {
					continue
				}
				ts, err := time.Parse("2006-01-02T15:04:05", r.CreationTime)
				if err != nil {
					continue
				}
				ts = ts.UTC()
				if !ts.After(since) {
					continue
				}
				if ts.After(cursor) {
					cursor = ts
				}
				out = append(out, RawAccessEvent{
					FilePath:    r.ObjectID,
					Action:      action,
					UserName:    r.UserID,
					ProcessName: r.ClientAppName,
					EventTime:   ts,
				})
			}
		}
	}
	return out, cursor, nil
}

func (p *M365Provider) listContent(ctx context.Context, contentType string, start, end time.Time) ([]m365Content, error) {
	u := fmt.Sprintf("%s/%s/activity/feed/subscriptions/content?contentType=%s&startTime=%s&endTime=%s",
		m365BaseURL, url.PathEscape(p.m365Tenant), url.QueryEscape(contentType),
		url.QueryEscape(start.Format("2006-01-02T15:04:05")),
		url.QueryEscape(end.Format("2006-01-02T15:04:05")))

	var all []m365Content
	for u != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, core.Permanent("bad m365 request", err)
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return nil, core.Transient("m365 content list failed", err)
		}
		var page []m365Content
		err = json.NewDecoder(resp.Body).Decode(&page)
		next := resp.Header.Get("NextPageUri")
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, core.Transient(fmt.Sprintf("m365 content list returned %d", resp.StatusCode), nil)
		}
		if err != nil {
			return nil, core.Transient("m365 content list decode failed", err)
		}
		all = append(all, page...)
		u = next
	}
	return all, nil
}

func (p *M365Provider) fetchContent(ctx context.Context, uri string) ([]m365Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, core.Permanent("bad m365 content uri", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, core.Transient("m365 content fetch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, core.Transient(fmt.Sprintf("m365 content fetch returned %d", resp.StatusCode), nil)
	}
	var records []m365Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, core.Transient("m365 content decode failed", err)
	}
	return records, nil
}
