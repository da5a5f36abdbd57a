// Package fsintercept adapts the jacobsa/fuse fuseops API to a passthrough
// filesystem that routes every mutating call through an
// undo.WriteInterceptor before touching the host filesystem.
package fsintercept

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// RootInodeID is the FUSE root inode, per kernel convention.
const RootInodeID = fuseops.RootInodeID

// InodePathMap maps FUSE inode numbers to host filesystem paths. fuseops
// identifies everything by inode; undo.WriteInterceptor identifies
// everything by host path — this bridges the two.
//
// Populated by lookup, create, mkdir, mknod, symlink, link. Updated by
// rename. Removed by unlink, rmdir, forget. Safe for concurrent use — the
// fuse server dispatches requests from a pool of goroutines.
type InodePathMap struct {
	mu   sync.RWMutex
	byID map[fuseops.InodeID]string
	root string
}

// NewInodePathMap returns a map with the root inode pre-populated.
func NewInodePathMap(root string) *InodePathMap {
	return &InodePathMap{
		byID: map[fuseops.InodeID]string{RootInodeID: root},
		root: root,
	}
}

// Root returns the shared directory root.
func (m *InodePathMap) Root() string { return m.root }

// Get returns the host path for an inode, or an error if it isn't tracked.
func (m *InodePathMap) Get(inode fuseops.InodeID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.byID[inode]
	if !ok {
		return "", fmt.Errorf("inode %d not tracked", inode)
	}
	return path, nil
}

// Resolve looks up the parent inode's path and appends the child name.
func (m *InodePathMap) Resolve(parent fuseops.InodeID, name string) (string, error) {
	parentPath, err := m.Get(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(parentPath, name), nil
}

// Insert tracks (or updates) an inode-to-path mapping. Called from lookup,
// create, mkdir, mknod, symlink, link.
func (m *InodePathMap) Insert(inode fuseops.InodeID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[inode] = path
}

// Remove drops a mapping. Called from unlink, rmdir, forget. The root
// inode is never removed.
func (m *InodePathMap) Remove(inode fuseops.InodeID) {
	if inode == RootInodeID {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, inode)
}

// Rename resolves old and new paths from parent inodes plus names, then
// rewrites every tracked path under the old prefix (subtree rename).
func (m *InodePathMap) Rename(oldParent fuseops.InodeID, oldName string, newParent fuseops.InodeID, newName string) error {
	oldPath, err := m.Resolve(oldParent, oldName)
	if err != nil {
		return err
	}
	newPath, err := m.Resolve(newParent, newName)
	if err != nil {
		return err
	}
	m.RenameSubtree(oldPath, newPath)
	return nil
}

// RenameSubtree rewrites every tracked path that equals or is nested under
// oldPrefix, replacing oldPrefix with newPrefix.
func (m *InodePathMap) RenameSubtree(oldPrefix, newPrefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updates := make(map[fuseops.InodeID]string)
	for inode, path := range m.byID {
		if path == oldPrefix {
			updates[inode] = newPrefix
			continue
		}
		if suffix, ok := stripPrefixPath(path, oldPrefix); ok {
			updates[inode] = filepath.Join(newPrefix, suffix)
		}
	}
	for inode, path := range updates {
		m.byID[inode] = path
	}
}

func stripPrefixPath(path, prefix string) (string, bool) {
	prefixed := prefix
	if !strings.HasSuffix(prefixed, "/") {
		prefixed += "/"
	}
	if !strings.HasPrefix(path, prefixed) {
		return "", false
	}
	return strings.TrimPrefix(path, prefixed), true
}

// Len returns the number of tracked inodes, including the root.
func (m *InodePathMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// IsEmpty reports whether only the root inode is tracked.
func (m *InodePathMap) IsEmpty() bool {
	return m.Len() <= 1
}
