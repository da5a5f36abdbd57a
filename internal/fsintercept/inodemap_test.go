package fsintercept

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootInodeIsPopulatedAtConstruction(t *testing.T) {
	m := NewInodePathMap("/shared")
	path, err := m.Get(RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, "/shared", path)
}

func TestGetUnknownInodeReturnsError(t *testing.T) {
	m := NewInodePathMap("/shared")
	_, err := m.Get(999)
	assert.Error(t, err)
}

func TestInsertAndGet(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(2, "/shared/file.txt")
	path, err := m.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "/shared/file.txt", path)
}

func TestResolveParentAndName(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(10, "/shared/subdir")

	resolved, err := m.Resolve(10, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "/shared/subdir/hello.txt", resolved)
}

func TestResolveRootAndName(t *testing.T) {
	m := NewInodePathMap("/shared")
	resolved, err := m.Resolve(RootInodeID, "top-level.txt")
	require.NoError(t, err)
	assert.Equal(t, "/shared/top-level.txt", resolved)
}

func TestResolveUnknownParentReturnsError(t *testing.T) {
	m := NewInodePathMap("/shared")
	_, err := m.Resolve(999, "file.txt")
	assert.Error(t, err)
}

func TestRemoveInode(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(2, "/shared/file.txt")
	_, err := m.Get(2)
	require.NoError(t, err)

	m.Remove(2)
	_, err = m.Get(2)
	assert.Error(t, err)
}

func TestRemoveRootInodeIsNoop(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Remove(RootInodeID)
	_, err := m.Get(RootInodeID)
	assert.NoError(t, err)
}

func TestRenameUpdatesInodePath(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(10, "/shared/dir_a")
	m.Insert(20, "/shared/dir_b")
	m.Insert(30, "/shared/dir_a/file.txt")

	require.NoError(t, m.Rename(RootInodeID, "dir_a", RootInodeID, "dir_c"))

	path, err := m.Get(10)
	require.NoError(t, err)
	assert.Equal(t, "/shared/dir_c", path)

	path, err = m.Get(30)
	require.NoError(t, err)
	assert.Equal(t, "/shared/dir_c/file.txt", path)

	path, err = m.Get(20)
	require.NoError(t, err)
	assert.Equal(t, "/shared/dir_b", path)
}

func TestRenameAcrossDirectories(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(10, "/shared/src")
	m.Insert(20, "/shared/dst")
	m.Insert(30, "/shared/src/file.txt")

	require.NoError(t, m.Rename(10, "file.txt", 20, "moved.txt"))

	path, err := m.Get(30)
	require.NoError(t, err)
	assert.Equal(t, "/shared/dst/moved.txt", path)
}

func TestRenameSubtreeUpdatesNestedPaths(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(10, "/shared/a")
	m.Insert(20, "/shared/a/b")
	m.Insert(30, "/shared/a/b/c")
	m.Insert(40, "/shared/a/b/c/file.txt")

	m.RenameSubtree("/shared/a", "/shared/x")

	for inode, want := range map[fuseops.InodeID]string{
		10: "/shared/x",
		20: "/shared/x/b",
		30: "/shared/x/b/c",
		40: "/shared/x/b/c/file.txt",
	} {
		path, err := m.Get(inode)
		require.NoError(t, err)
		assert.Equal(t, want, path)
	}
}

func TestInsertOverwritesExistingMapping(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(2, "/shared/old.txt")
	m.Insert(2, "/shared/new.txt")
	path, err := m.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "/shared/new.txt", path)
}

func TestLenCountsAllInodes(t *testing.T) {
	m := NewInodePathMap("/shared")
	assert.Equal(t, 1, m.Len())
	m.Insert(2, "/shared/a")
	assert.Equal(t, 2, m.Len())
	m.Insert(3, "/shared/b")
	assert.Equal(t, 3, m.Len())
}

func TestConcurrentAccess(t *testing.T) {
	m := NewInodePathMap("/shared")
	var wg sync.WaitGroup
	for i := fuseops.InodeID(2); i <= 100; i++ {
		wg.Add(1)
		go func(i fuseops.InodeID) {
			defer wg.Done()
			m.Insert(i, fmt.Sprintf("/shared/file_%d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, m.Len())
	for i := fuseops.InodeID(2); i <= 100; i++ {
		path, err := m.Get(i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("/shared/file_%d", i), path)
	}
}

func TestForgetRemovesMapping(t *testing.T) {
	m := NewInodePathMap("/shared")
	m.Insert(2, "/shared/a")
	m.Insert(3, "/shared/b")

	m.Remove(2)
	_, err := m.Get(2)
	assert.Error(t, err)
	_, err = m.Get(3)
	assert.NoError(t, err)
}
