package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/openlabels/scanner/internal/core"
)

// GraphConfig drives SharePoint and OneDrive access through the
// Microsoft Graph API using app-only client credentials.
type GraphConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// SiteID for SharePoint targets, DriveID for OneDrive targets.
	SiteID  string `json:"site_id,omitempty"`
	DriveID string `json:"drive_id,omitempty"`
	Folder  string `json:"folder,omitempty"`
}

const graphBaseURL = "https://graph.microsoft.com/v1.0"

type graphAdapter struct {
	kind     AdapterKind
	cfg      GraphConfig
	http     *http.Client
	maxBytes int64
}

func newGraphAdapter(kind AdapterKind, cfg GraphConfig, maxBytes int64) *graphAdapter {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	client := cc.Client(context.Background())
	client.Timeout = 60 * time.Second
	return &graphAdapter{kind: kind, cfg: cfg, http: client, maxBytes: maxBytes}
}

func (a *graphAdapter) Kind() AdapterKind { return a.kind }

// driveItem is the subset of the Graph driveItem resource we consume.
type driveItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	LastModified time.Time `json:"lastModifiedDateTime"`
	WebURL       string    `json:"webUrl"`
	CreatedBy    *struct {
		User struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"createdBy"`
	ParentReference *struct {
		Path string `json:"path"`
	} `json:"parentReference"`
	Shared *struct {
		Scope string `json:"scope"` // anonymous, organization, users
	} `json:"shared"`
}

type driveItemPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// Enumerate walks the drive breadth-first through the children endpoint.
// The cursor is the @odata.nextLink of the in-flight page plus the queue
// of pending folder IDs; to keep it robust across drive mutations we
// resume from a page link only, so a restart may revisit completed
// folders but never skips files.
func (a *graphAdapter) Enumerate(ctx context.Context, startCursor string) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errc)

		start := a.rootChildrenURL()
		if startCursor != "" {
			start = startCursor
		}
		queue := []string{start}

		for len(queue) > 0 {
			pageURL := queue[0]
			queue = queue[1:]

			for pageURL != "" {
				var page driveItemPage
				if err := a.getJSON(ctx, pageURL, &page); err != nil {
					errc <- err
					return
				}
				for _, item := range page.Value {
					if item.Folder != nil {
						queue = append(queue, a.childrenURL(item.ID))
						continue
					}
					fi := a.fileInfo(item)
					fi.Cursor = page.NextLink
					select {
					case files <- fi:
					case <-ctx.Done():
						errc <- ctx.Err()
						return
					}
				}
				pageURL = page.NextLink
			}
		}
	}()

	return files, errc
}

func (a *graphAdapter) Read(ctx context.Context, fi FileInfo) ([]byte, error) {
	if a.maxBytes > 0 && fi.Size > a.maxBytes {
		return nil, ErrTooLarge
	}
	u := fmt.Sprintf("%s/items/%s/content", a.driveURL(), url.PathEscape(fi.Path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, core.Permanent("bad graph request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, core.Transient("graph download failed", err)
	}
	defer resp.Body.Close()

	if err := graphStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.limit()))
	if err != nil {
		return nil, core.Transient("graph body read failed", err)
	}
	return data, nil
}

func (a *graphAdapter) Metadata(ctx context.Context, fi FileInfo) (FileInfo, error) {
	var item driveItem
	u := fmt.Sprintf("%s/items/%s", a.driveURL(), url.PathEscape(fi.Path))
	if err := a.getJSON(ctx, u, &item); err != nil {
		return FileInfo{}, err
	}
	return a.fileInfo(item), nil
}

func (a *graphAdapter) TestConnection(ctx context.Context) error {
	var item driveItem
	return a.getJSON(ctx, a.driveURL(), &item)
}

// fileInfo maps a driveItem to FileInfo. The item ID is the Path: Graph
// addresses content by ID, and the human path lands in Name/Owner.
func (a *graphAdapter) fileInfo(item driveItem) FileInfo {
	fi := FileInfo{
		Path:     item.ID,
		Name:     item.Name,
		Size:     item.Size,
		Modified: item.LastModified.UTC(),
		Exposure: core.ExposureInternal,
	}
	if item.CreatedBy != nil {
		fi.Owner = item.CreatedBy.User.DisplayName
	}
	if item.Shared != nil {
		switch item.Shared.Scope {
		case "anonymous":
			fi.Exposure = core.ExposurePublic
		case "organization":
			fi.Exposure = core.ExposureOrgWide
		default:
			fi.Exposure = core.ExposureInternal
		}
	}
	return fi
}

func (a *graphAdapter) driveURL() string {
	if a.kind == KindSharePoint {
		return fmt.Sprintf("%s/sites/%s/drive", graphBaseURL, url.PathEscape(a.cfg.SiteID))
	}
	return fmt.Sprintf("%s/drives/%s", graphBaseURL, url.PathEscape(a.cfg.DriveID))
}

func (a *graphAdapter) rootChildrenURL() string {
	if a.cfg.Folder != "" {
		return fmt.Sprintf("%s/root:/%s:/children", a.driveURL(), url.PathEscape(a.cfg.Folder))
	}
	return a.driveURL() + "/root/children"
}

func (a *graphAdapter) childrenURL(itemID string) string {
	return fmt.Sprintf("%s/items/%s/children", a.driveURL(), url.PathEscape(itemID))
}

func (a *graphAdapter) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return core.Permanent("bad graph request", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return core.Transient("graph request failed", err)
	}
	defer resp.Body.Close()

	if err := graphStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.Transient("graph response decode failed", err)
	}
	return nil
}

func (a *graphAdapter) limit() int64 {
	if a.maxBytes > 0 {
		return a.maxBytes + 1
	}
	return 1 << 30
}

func graphStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return ErrPermissionDenied
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return core.Transient(fmt.Sprintf("graph returned %d", resp.StatusCode), nil)
	default:
		return core.Permanent(fmt.Sprintf("graph returned %d", resp.StatusCode), nil)
	}
}
