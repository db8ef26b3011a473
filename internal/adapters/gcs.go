package adapters

import (
	"context"
	"errors"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/openlabels/scanner/internal/core"
)

// GCSConfig selects one bucket, optionally restricted to a prefix.
// Credentials come from application default credentials.
type GCSConfig struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
}

type gcsAdapter struct {
	client   *storage.Client
	cfg      GCSConfig
	maxBytes int64
}

func newGCSAdapter(cfg GCSConfig, maxBytes int64) (*gcsAdapter, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, core.Permanent("gcs client init failed", err)
	}
	return &gcsAdapter{client: client, cfg: cfg, maxBytes: maxBytes}, nil
}

func (a *gcsAdapter) Kind() AdapterKind { return KindGCS }

// Enumerate lists objects in lexical order; StartOffset resumes strictly
// after the cursor key.
func (a *gcsAdapter) Enumerate(ctx context.Context, startCursor string) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errc)

		query := &storage.Query{Prefix: a.cfg.Prefix}
		if startCursor != "" {
			query.StartOffset = startCursor
		}
		it := a.client.Bucket(a.cfg.Bucket).Objects(ctx, query)
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				errc <- classifyGCS(err, "list objects failed")
				return
			}
			// StartOffset is inclusive; skip the already-seen key.
			if attrs.Name == startCursor {
				continue
			}
			fi := FileInfo{
				Path:     attrs.Name,
				Name:     path.Base(attrs.Name),
				Size:     attrs.Size,
				Modified: attrs.Updated.UTC(),
				Exposure: core.ExposurePrivate,
				Cursor:   attrs.Name,
			}
			select {
			case files <- fi:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return files, errc
}

func (a *gcsAdapter) Read(ctx context.Context, fi FileInfo) ([]byte, error) {
	if a.maxBytes > 0 && fi.Size > a.maxBytes {
		return nil, ErrTooLarge
	}
	r, err := a.client.Bucket(a.cfg.Bucket).Object(fi.Path).NewReader(ctx)
	if err != nil {
		return nil, classifyGCS(err, "object open failed")
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, core.Transient("object body read failed", err)
	}
	return data, nil
}

func (a *gcsAdapter) Metadata(ctx context.Context, fi FileInfo) (FileInfo, error) {
	attrs, err := a.client.Bucket(a.cfg.Bucket).Object(fi.Path).Attrs(ctx)
	if err != nil {
		return FileInfo{}, classifyGCS(err, "object attrs failed")
	}
	fi.Size = attrs.Size
	fi.Modified = attrs.Updated.UTC()
	return fi, nil
}

func (a *gcsAdapter) TestConnection(ctx context.Context) error {
	_, err := a.client.Bucket(a.cfg.Bucket).Attrs(ctx)
	if err != nil {
		return classifyGCS(err, "bucket not accessible")
	}
	return nil
}

func classifyGCS(err error, msg string) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return core.Transient(msg, err)
	}
}
