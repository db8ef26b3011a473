package adapters

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openlabels/scanner/internal/core"
)

// FilesystemConfig covers local paths and mounted SMB/NFS shares.
type FilesystemConfig struct {
	RootPath        string             `json:"root_path"`
	IncludeExts     []string           `json:"include_extensions,omitempty"`
	ExcludeDirs     []string           `json:"exclude_dirs,omitempty"`
	DefaultExposure core.ExposureLevel `json:"default_exposure,omitempty"`
}

type filesystemAdapter struct {
	kind     AdapterKind
	cfg      FilesystemConfig
	maxBytes int64
}

func newFilesystemAdapter(kind AdapterKind, cfg FilesystemConfig, maxBytes int64) *filesystemAdapter {
	if cfg.DefaultExposure == "" {
		cfg.DefaultExposure = core.ExposureInternal
	}
	return &filesystemAdapter{kind: kind, cfg: cfg, maxBytes: maxBytes}
}

func (a *filesystemAdapter) Kind() AdapterKind { return a.kind }

// Enumerate walks the root in lexical order, which makes the path
// itself a valid resume cursor: everything <= startCursor was already
// seen.
func (a *filesystemAdapter) Enumerate(ctx context.Context, startCursor string) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errc)

		err := filepath.WalkDir(a.cfg.RootPath, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				if errors.Is(err, fs.ErrPermission) {
					if d != nil && d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
				return err
			}
			if d.IsDir() {
				if a.excludedDir(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if startCursor != "" && path <= startCursor {
				return nil
			}
			if !a.wantExt(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil // raced with a delete; skip
			}
			select {
			case files <- a.fileInfo(path, info):
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errc <- core.Transient("filesystem walk failed", err)
		} else if err != nil {
			errc <- err
		}
	}()

	return files, errc
}

func (a *filesystemAdapter) Read(ctx context.Context, fi FileInfo) ([]byte, error) {
	if a.maxBytes > 0 && fi.Size > a.maxBytes {
		return nil, ErrTooLarge
	}
	data, err := os.ReadFile(fi.Path)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return nil, ErrPermissionDenied
	default:
		return nil, core.Transient("read failed", err)
	}
}

func (a *filesystemAdapter) Metadata(ctx context.Context, fi FileInfo) (FileInfo, error) {
	info, err := os.Stat(fi.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, core.Transient("stat failed", err)
	}
	return a.fileInfo(fi.Path, info), nil
}

func (a *filesystemAdapter) TestConnection(ctx context.Context) error {
	info, err := os.Stat(a.cfg.RootPath)
	if err != nil {
		return core.Permanent("root path not accessible", err)
	}
	if !info.IsDir() {
		return core.Permanent("root path is not a directory", nil)
	}
	return nil
}

func (a *filesystemAdapter) fileInfo(path string, info fs.FileInfo) FileInfo {
	return FileInfo{
		Path:        path,
		Name:        info.Name(),
		Size:        info.Size(),
		Modified:    info.ModTime().UTC(),
		Permissions: info.Mode().Perm().String(),
		Exposure:    a.cfg.DefaultExposure,
		Cursor:      path,
	}
}

func (a *filesystemAdapter) excludedDir(name string) bool {
	for _, d := range a.cfg.ExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

func (a *filesystemAdapter) wantExt(path string) bool {
	if len(a.cfg.IncludeExts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range a.cfg.IncludeExts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
