// Package adapters provides uniform enumeration and read access over
// heterogeneous data sources. Adapters are built from a tagged kind and
// a per-kind config struct; no reflection, no string-keyed registries.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openlabels/scanner/internal/core"
)

// AdapterKind tags the supported data sources.
type AdapterKind string

const (
	KindFilesystem AdapterKind = "filesystem"
	KindSMB        AdapterKind = "smb"
	KindNFS        AdapterKind = "nfs"
	KindSharePoint AdapterKind = "sharepoint"
	KindOneDrive   AdapterKind = "onedrive"
	KindS3         AdapterKind = "s3"
	KindGCS        AdapterKind = "gcs"
	KindAzureBlob  AdapterKind = "azureblob"
)

// FileInfo describes one enumerable file. Cursor is an opaque resume
// marker meaningful only to the adapter that produced it.
type FileInfo struct {
	Path        string             `json:"path"`
	Name        string             `json:"name"`
	Size        int64              `json:"size"`
	Modified    time.Time          `json:"modified"`
	Owner       string             `json:"owner,omitempty"`
	Permissions string             `json:"permissions,omitempty"`
	Exposure    core.ExposureLevel `json:"exposure_level"`
	Cursor      string             `json:"cursor,omitempty"`
}

// StorageAdapter is the uniform data-source interface. Enumerate streams
// FileInfo until exhaustion or error; the error channel delivers at most
// one value after the file channel closes.
type StorageAdapter interface {
	Kind() AdapterKind
	Enumerate(ctx context.Context, startCursor string) (<-chan FileInfo, <-chan error)
	Read(ctx context.Context, fi FileInfo) ([]byte, error)
	Metadata(ctx context.Context, fi FileInfo) (FileInfo, error)
	TestConnection(ctx context.Context) error
}

// Read error sentinels.
var (
	ErrNotFound         = core.Permanent("file not found", nil)
	ErrPermissionDenied = core.Permanent("permission denied", nil)
	ErrTooLarge         = core.Permanent("file exceeds size limit", nil)
)

// Config is the sum-of-struct adapter configuration. Exactly one
// variant is populated, selected by Kind.
type Config struct {
	Kind AdapterKind `json:"kind"`

	Filesystem *FilesystemConfig `json:"filesystem,omitempty"`
	S3         *S3Config         `json:"s3,omitempty"`
	GCS        *GCSConfig        `json:"gcs,omitempty"`
	AzureBlob  *AzureBlobConfig  `json:"azureblob,omitempty"`
	Graph      *GraphConfig      `json:"graph,omitempty"`

	// MaxFileSizeMB caps Read; larger files return ErrTooLarge.
	MaxFileSizeMB int `json:"max_file_size_mb,omitempty"`
}

// ParseConfig decodes a scan target's config blob.
func ParseConfig(kind string, raw json.RawMessage) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, core.NewError(core.CodeValidation, "invalid adapter config", err)
	}
	cfg.Kind = AdapterKind(kind)
	return cfg, nil
}

// Build constructs the adapter for cfg.Kind. SMB and NFS shares are
// reached through their mount points and reuse the filesystem walker
// with share-appropriate exposure defaults.
func Build(cfg Config) (StorageAdapter, error) {
	maxBytes := int64(cfg.MaxFileSizeMB) * 1024 * 1024
	switch cfg.Kind {
	case KindFilesystem:
		if cfg.Filesystem == nil {
			return nil, missingConfig(cfg.Kind)
		}
		return newFilesystemAdapter(KindFilesystem, *cfg.Filesystem, maxBytes), nil
	case KindSMB, KindNFS:
		if cfg.Filesystem == nil {
			return nil, missingConfig(cfg.Kind)
		}
		fs := *cfg.Filesystem
		if fs.DefaultExposure == "" {
			fs.DefaultExposure = core.ExposureOrgWide
		}
		return newFilesystemAdapter(cfg.Kind, fs, maxBytes), nil
	case KindS3:
		if cfg.S3 == nil {
			return nil, missingConfig(cfg.Kind)
		}
		return newS3Adapter(*cfg.S3, maxBytes)
	case KindGCS:
		if cfg.GCS == nil {
			return nil, missingConfig(cfg.Kind)
		}
		return newGCSAdapter(*cfg.GCS, maxBytes)
	case KindAzureBlob:
		if cfg.AzureBlob == nil {
			return nil, missingConfig(cfg.Kind)
		}
		return newAzureBlobAdapter(*cfg.AzureBlob, maxBytes)
	case KindSharePoint, KindOneDrive:
		if cfg.Graph == nil {
			return nil, missingConfig(cfg.Kind)
		}
		return newGraphAdapter(cfg.Kind, *cfg.Graph, maxBytes), nil
	default:
		return nil, core.NewError(core.CodeValidation, fmt.Sprintf("unknown adapter kind %q", cfg.Kind), nil)
	}
}

func missingConfig(kind AdapterKind) error {
	return core.NewError(core.CodeValidation, fmt.Sprintf("missing %s adapter config", kind), nil)
}
