package adapters

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/openlabels/scanner/internal/core"
)

// S3Config selects one bucket, optionally restricted to a key prefix.
type S3Config struct {
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // for S3-compatible stores
}

type s3Adapter struct {
	client   *s3.Client
	cfg      S3Config
	maxBytes int64
}

func newS3Adapter(cfg S3Config, maxBytes int64) (*s3Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, core.Permanent("aws config load failed", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Adapter{client: client, cfg: cfg, maxBytes: maxBytes}, nil
}

func (a *s3Adapter) Kind() AdapterKind { return KindS3 }

// Enumerate pages through ListObjectsV2. Keys arrive in lexical order,
// so the last emitted key doubles as the resume cursor via StartAfter.
func (a *s3Adapter) Enumerate(ctx context.Context, startCursor string) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errc)

		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(a.cfg.Bucket),
		}
		if a.cfg.Prefix != "" {
			input.Prefix = aws.String(a.cfg.Prefix)
		}
		if startCursor != "" {
			input.StartAfter = aws.String(startCursor)
		}

		paginator := s3.NewListObjectsV2Paginator(a.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				errc <- classifyS3(err, "list objects failed")
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue // directory marker
				}
				fi := FileInfo{
					Path:     key,
					Name:     path.Base(key),
					Size:     aws.ToInt64(obj.Size),
					Exposure: core.ExposurePrivate,
					Cursor:   key,
				}
				if obj.LastModified != nil {
					fi.Modified = obj.LastModified.UTC()
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

func (a *s3Adapter) Read(ctx context.Context, fi FileInfo) ([]byte, error) {
	if a.maxBytes > 0 && fi.Size > a.maxBytes {
		return nil, ErrTooLarge
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(fi.Path),
	})
	if err != nil {
		return nil, classifyS3(err, "get object failed")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, core.Transient("get object body read failed", err)
	}
	return data, nil
}

func (a *s3Adapter) Metadata(ctx context.Context, fi FileInfo) (FileInfo, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(fi.Path),
	})
	if err != nil {
		return FileInfo{}, classifyS3(err, "head object failed")
	}
	fi.Size = aws.ToInt64(out.ContentLength)
	if out.LastModified != nil {
		fi.Modified = out.LastModified.UTC()
	}
	return fi, nil
}

func (a *s3Adapter) TestConnection(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.cfg.Bucket),
	})
	if err != nil {
		return classifyS3(err, "bucket not accessible")
	}
	return nil
}

func classifyS3(err error, msg string) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return core.Transient(msg, err)
	}
}
