package adapters

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func drain(t *testing.T, files <-chan FileInfo, errc <-chan error) []FileInfo {
	t.Helper()
	var out []FileInfo
	for fi := range files {
		out = append(out, fi)
	}
	require.NoError(t, <-errc)
	return out
}

func TestFilesystemEnumerateLexicalOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b.txt":        "two",
		"a.txt":        "one",
		"sub/c.txt":    "three",
		"sub/deep/d.txt": "four",
	})
	a := newFilesystemAdapter(KindFilesystem, FilesystemConfig{RootPath: root}, 0)

	files, errc := a.Enumerate(context.Background(), "")
	got := drain(t, files, errc)
	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Path, got[i].Path)
	}
	assert.Equal(t, "a.txt", got[0].Name)
	assert.EqualValues(t, 3, got[0].Size)
	assert.Equal(t, got[0].Path, got[0].Cursor)
	assert.Equal(t, core.ExposureInternal, got[0].Exposure)
}

func TestFilesystemEnumerateResumesAfterCursor(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "1", "b.txt": "2", "c.txt": "3",
	})
	a := newFilesystemAdapter(KindFilesystem, FilesystemConfig{RootPath: root}, 0)

	files, errc := a.Enumerate(context.Background(), "")
	all := drain(t, files, errc)
	require.Len(t, all, 3)

	files, errc = a.Enumerate(context.Background(), all[0].Cursor)
	resumed := drain(t, files, errc)
	require.Len(t, resumed, 2)
	assert.Equal(t, all[1].Path, resumed[0].Path)
}

func TestFilesystemEnumerateFilters(t *testing.T) {
	root := writeTree(t, map[string]string{
		"keep.csv":          "a",
		"skip.exe":          "b",
		"node_modules/x.csv": "c",
	})
	a := newFilesystemAdapter(KindFilesystem, FilesystemConfig{
		RootPath:    root,
		IncludeExts: []string{".csv"},
		ExcludeDirs: []string{"node_modules"},
	}, 0)

	files, errc := a.Enumerate(context.Background(), "")
	got := drain(t, files, errc)
	require.Len(t, got, 1)
	assert.Equal(t, "keep.csv", got[0].Name)
}

func TestFilesystemReadSizeCap(t *testing.T) {
	root := writeTree(t, map[string]string{"big.txt": "0123456789"})
	a := newFilesystemAdapter(KindFilesystem, FilesystemConfig{RootPath: root}, 5)

	fi := FileInfo{Path: filepath.Join(root, "big.txt"), Size: 10}
	_, err := a.Read(context.Background(), fi)
	assert.ErrorIs(t, err, ErrTooLarge)

	a = newFilesystemAdapter(KindFilesystem, FilesystemConfig{RootPath: root}, 0)
	data, err := a.Read(context.Background(), fi)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestFilesystemReadMissingFile(t *testing.T) {
	a := newFilesystemAdapter(KindFilesystem, FilesystemConfig{RootPath: t.TempDir()}, 0)
	_, err := a.Read(context.Background(), FileInfo{Path: filepath.Join(t.TempDir(), "gone.txt")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemTestConnection(t *testing.T) {
	root := t.TempDir()
	a := newFilesystemAdapter(KindFilesystem, FilesystemConfig{RootPath: root}, 0)
	assert.NoError(t, a.TestConnection(context.Background()))

	a = newFilesystemAdapter(KindFilesystem, FilesystemConfig{RootPath: filepath.Join(root, "missing")}, 0)
	assert.Error(t, a.TestConnection(context.Background()))
}

func TestBuildShareExposureDefault(t *testing.T) {
	cfg, err := ParseConfig("smb", json.RawMessage(`{"filesystem":{"root_path":"/mnt/share"}}`))
	require.NoError(t, err)
	adapter, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, KindSMB, adapter.Kind())
	assert.Equal(t, core.ExposureOrgWide, adapter.(*filesystemAdapter).cfg.DefaultExposure)
}

func TestBuildMissingVariant(t *testing.T) {
	cfg, err := ParseConfig("filesystem", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = Build(cfg)
	require.Error(t, err)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}
