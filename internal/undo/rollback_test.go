package undo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStepDir(t *testing.T, workingRoot string) string {
	t.Helper()
	stepDir := t.TempDir()
	preimageDir := filepath.Join(stepDir, "preimages")
	require.NoError(t, os.MkdirAll(preimageDir, 0o755))
	return stepDir
}

func TestRollbackStepRestoresModifiedFile(t *testing.T) {
	root := t.TempDir()
	stepDir := buildStepDir(t, root)
	preimageDir := filepath.Join(stepDir, "preimages")

	path := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	meta, _, err := capturePreimage(path, root, preimageDir)
	require.NoError(t, err)

	manifest := newStepManifest(1)
	manifest.addEntry("file.txt", pathHash("file.txt"), true, string(meta.FileType))
	require.NoError(t, manifest.writeTo(stepDir))

	require.NoError(t, os.WriteFile(path, []byte("modified"), 0o644))

	require.NoError(t, rollbackStep(stepDir, root, SymlinkReadOnly))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestRollbackStepDeletesCreatedFile(t *testing.T) {
	root := t.TempDir()
	stepDir := buildStepDir(t, root)
	preimageDir := filepath.Join(stepDir, "preimages")

	path := filepath.Join(root, "created.txt")
	require.NoError(t, os.WriteFile(path, []byte("new"), 0o644))

	_, err := captureCreationMarker(path, root, preimageDir)
	require.NoError(t, err)

	manifest := newStepManifest(1)
	manifest.addEntry("created.txt", pathHash("created.txt"), false, string(PreimageRegular))
	require.NoError(t, manifest.writeTo(stepDir))

	require.NoError(t, rollbackStep(stepDir, root, SymlinkReadOnly))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRollbackStepRecreatesDeletedDirectory(t *testing.T) {
	root := t.TempDir()
	stepDir := buildStepDir(t, root)
	preimageDir := filepath.Join(stepDir, "preimages")

	dirPath := filepath.Join(root, "subdir")
	require.NoError(t, os.Mkdir(dirPath, 0o755))

	meta, _, err := capturePreimage(dirPath, root, preimageDir)
	require.NoError(t, err)

	manifest := newStepManifest(1)
	manifest.addEntry("subdir", pathHash("subdir"), true, string(meta.FileType))
	require.NoError(t, manifest.writeTo(stepDir))

	require.NoError(t, os.RemoveAll(dirPath))

	require.NoError(t, rollbackStep(stepDir, root, SymlinkReadOnly))

	info, err := os.Stat(dirPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRollbackStepSkipsSymlinkRestoreUnderReadOnlyPolicy(t *testing.T) {
	root := t.TempDir()
	stepDir := buildStepDir(t, root)
	preimageDir := filepath.Join(stepDir, "preimages")

	target := filepath.Join(root, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("t"), 0o644))
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	meta, _, err := capturePreimage(link, root, preimageDir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(link))

	manifest := newStepManifest(1)
	manifest.addEntry("link.txt", pathHash("link.txt"), true, string(meta.FileType))
	require.NoError(t, manifest.writeTo(stepDir))

	require.NoError(t, rollbackStep(stepDir, root, SymlinkReadOnly))

	_, statErr := os.Lstat(link)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPathDepthCountsSeparators(t *testing.T) {
	assert.Equal(t, 0, pathDepth("file.txt"))
	assert.Equal(t, 2, pathDepth("a/b/c.txt"))
	assert.Equal(t, 2, pathDepth(`a\b\c.txt`))
}
