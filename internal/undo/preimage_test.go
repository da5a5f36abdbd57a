package undo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturePreimageRegularFileRoundTrips(t *testing.T) {
	root := t.TempDir()
	preimageDir := t.TempDir()
	path := filepath.Join(root, "sub", "file.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("hello preimage"), 0o644))

	meta, dataBytes, err := capturePreimage(path, root, preimageDir)
	require.NoError(t, err)
	assert.True(t, meta.ExistedBefore)
	assert.Equal(t, PreimageRegular, meta.FileType)
	assert.Equal(t, "sub/file.txt", meta.RelativePath)
	assert.Equal(t, uint64(len("hello preimage")), meta.Size)
	assert.Greater(t, dataBytes, uint64(0))

	hash := pathHash("sub/file.txt")
	loaded, err := readPreimageMetadata(preimageDir, hash)
	require.NoError(t, err)
	assert.Equal(t, meta.RelativePath, loaded.RelativePath)

	compressed, err := os.ReadFile(dataPath(preimageDir, hash))
	require.NoError(t, err)
	restored, err := zstdDecompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, "hello preimage", string(restored))
}

func TestCapturePreimageSymlinkRecordsTarget(t *testing.T) {
	root := t.TempDir()
	preimageDir := t.TempDir()
	target := filepath.Join(root, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	meta, _, err := capturePreimage(link, root, preimageDir)
	require.NoError(t, err)
	assert.Equal(t, PreimageSymlink, meta.FileType)
	assert.Equal(t, target, meta.SymlinkTarget)
}

func TestCapturePreimageRejectsPathOutsideWorkingRoot(t *testing.T) {
	root := t.TempDir()
	preimageDir := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "escaped.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, _, err := capturePreimage(path, root, preimageDir)
	require.Error(t, err)
	var preimageErr *PreimageError
	assert.ErrorAs(t, err, &preimageErr)
}

func TestCaptureCreationMarkerRecordsDidNotExist(t *testing.T) {
	root := t.TempDir()
	preimageDir := t.TempDir()
	path := filepath.Join(root, "new.txt")

	meta, err := captureCreationMarker(path, root, preimageDir)
	require.NoError(t, err)
	assert.False(t, meta.ExistedBefore)
	assert.Equal(t, "new.txt", meta.RelativePath)

	loaded, err := readPreimageMetadata(preimageDir, pathHash("new.txt"))
	require.NoError(t, err)
	assert.False(t, loaded.ExistedBefore)
}

func TestPathHashIsStableAndPlatformNormalized(t *testing.T) {
	assert.Equal(t, pathHash("a/b/c"), pathHash("a/b/c"))
	assert.Equal(t, pathHash(`a\b\c`), pathHash("a/b/c"))
	assert.NotEqual(t, pathHash("a/b/c"), pathHash("a/b/d"))
}
