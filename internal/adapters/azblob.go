package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/openlabels/scanner/internal/core"
)

// AzureBlobConfig selects one container in one storage account.
// Credentials come from the default Azure credential chain.
type AzureBlobConfig struct {
	AccountName string `json:"account_name"`
	Container   string `json:"container"`
	Prefix      string `json:"prefix,omitempty"`
}

type azureBlobAdapter struct {
	client   *azblob.Client
	cfg      AzureBlobConfig
	maxBytes int64
}

func newAzureBlobAdapter(cfg AzureBlobConfig, maxBytes int64) (*azureBlobAdapter, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, core.Permanent("azure credential init failed", err)
	}
	url := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClient(url, cred, nil)
	if err != nil {
		return nil, core.Permanent("azure blob client init failed", err)
	}
	return &azureBlobAdapter{client: client, cfg: cfg, maxBytes: maxBytes}, nil
}

func (a *azureBlobAdapter) Kind() AdapterKind { return KindAzureBlob }

// Enumerate pages through the flat blob listing. Blob names arrive in
// lexical order; the last emitted name is the resume cursor.
func (a *azureBlobAdapter) Enumerate(ctx context.Context, startCursor string) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errc)

		opts := &container.ListBlobsFlatOptions{}
		if a.cfg.Prefix != "" {
			opts.Prefix = &a.cfg.Prefix
		}
		pager := a.client.NewListBlobsFlatPager(a.cfg.Container, opts)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				errc <- classifyAzure(err, "list blobs failed")
				return
			}
			for _, blob := range page.Segment.BlobItems {
				if blob.Name == nil {
					continue
				}
				name := *blob.Name
				if startCursor != "" && name <= startCursor {
					continue
				}
				fi := FileInfo{
					Path:     name,
					Name:     path.Base(name),
					Exposure: core.ExposurePrivate,
					Cursor:   name,
				}
				if blob.Properties != nil {
					if blob.Properties.ContentLength != nil {
						fi.Size = *blob.Properties.ContentLength
					}
					if blob.Properties.LastModified != nil {
						fi.Modified = blob.Properties.LastModified.UTC()
					}
				}
				select {
				case files <- fi:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	return files, errc
}

func (a *azureBlobAdapter) Read(ctx context.Context, fi FileInfo) ([]byte, error) {
	if a.maxBytes > 0 && fi.Size > a.maxBytes {
		return nil, ErrTooLarge
	}
	resp, err := a.client.DownloadStream(ctx, a.cfg.Container, fi.Path, nil)
	if err != nil {
		return nil, classifyAzure(err, "blob download failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Transient("blob body read failed", err)
	}
	return data, nil
}

func (a *azureBlobAdapter) Metadata(ctx context.Context, fi FileInfo) (FileInfo, error) {
	props, err := a.client.ServiceClient().
		NewContainerClient(a.cfg.Container).
		NewBlobClient(fi.Path).
		GetProperties(ctx, nil)
	if err != nil {
		return FileInfo{}, classifyAzure(err, "blob properties failed")
	}
	if props.ContentLength != nil {
		fi.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		fi.Modified = props.LastModified.UTC()
	}
	return fi, nil
}

func (a *azureBlobAdapter) TestConnection(ctx context.Context) error {
	_, err := a.client.ServiceClient().
		NewContainerClient(a.cfg.Container).
		GetProperties(ctx, nil)
	if err != nil {
		return classifyAzure(err, "container not accessible")
	}
	return nil
}

func classifyAzure(err error, msg string) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return ErrNotFound
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 403 {
		return ErrPermissionDenied
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.Transient(msg, err)
}
