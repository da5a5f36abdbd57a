package undo

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/xattr"
)

type pathHashPair struct {
	relPath string
	hash    string
}

// rollbackStep executes the two-pass rollback algorithm for a single step:
//
//  1. Delete paths created during the step (deepest-first), recreate
//     directories that existed before (shallowest-first), then restore file
//     contents and metadata.
//  2. Restore directory metadata (deepest-first) so restoring a child's
//     metadata can't clobber a parent's mtime.
func rollbackStep(stepDir, workingRoot string, symlinkPolicy SymlinkPolicy) error {
	manifest, err := readManifestFrom(stepDir)
	if err != nil {
		return err
	}
	preimageDir := filepath.Join(stepDir, "preimages")

	var dirsToRestore, filesToRestore, pathsToDelete []pathHashPair
	for relPath, entry := range manifest.Entries {
		if entry.ExistedBefore {
			if entry.FileType == string(PreimageDirectory) {
				dirsToRestore = append(dirsToRestore, pathHashPair{relPath, entry.PathHash})
			} else {
				filesToRestore = append(filesToRestore, pathHashPair{relPath, entry.PathHash})
			}
		} else {
			pathsToDelete = append(pathsToDelete, pathHashPair{relPath, entry.PathHash})
		}
	}

	// Pass 1a: delete created paths, deepest-first.
	sort.Slice(pathsToDelete, func(i, j int) bool {
		return pathDepth(pathsToDelete[i].relPath) > pathDepth(pathsToDelete[j].relPath)
	})
	for _, p := range pathsToDelete {
		fullPath := filepath.Join(workingRoot, p.relPath)
		if _, err := os.Lstat(fullPath); err == nil {
			_ = os.RemoveAll(fullPath)
		}
	}

	// Pass 1b: recreate directories that existed before, shallowest-first.
	sort.Slice(dirsToRestore, func(i, j int) bool {
		return pathDepth(dirsToRestore[i].relPath) < pathDepth(dirsToRestore[j].relPath)
	})
	for _, d := range dirsToRestore {
		fullPath := filepath.Join(workingRoot, d.relPath)
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			if err := os.MkdirAll(fullPath, 0o755); err != nil {
				return err
			}
		}
	}

	// Pass 1c: restore file contents and metadata, in manifest (relative
	// path) order rather than map iteration order.
	sort.Slice(filesToRestore, func(i, j int) bool {
		return filesToRestore[i].relPath < filesToRestore[j].relPath
	})
	for _, f := range filesToRestore {
		meta, err := readPreimageMetadata(preimageDir, f.hash)
		if err != nil {
			return err
		}
		fullPath := filepath.Join(workingRoot, f.relPath)

		if parent := filepath.Dir(fullPath); parent != "" {
			if _, err := os.Stat(parent); os.IsNotExist(err) {
				if err := os.MkdirAll(parent, 0o755); err != nil {
					return err
				}
			}
		}

		if meta.FileType == PreimageSymlink && symlinkPolicy != SymlinkReadWrite {
			continue
		}

		switch meta.FileType {
		case PreimageRegular:
			compressed, err := os.ReadFile(dataPath(preimageDir, f.hash))
			if err != nil {
				return err
			}
			contents, err := zstdDecompress(compressed)
			if err != nil {
				return &DecompressionError{Message: "failed to decompress preimage for " + f.relPath + ": " + err.Error()}
			}
			if err := os.WriteFile(fullPath, contents, 0o644); err != nil {
				return err
			}
		case PreimageSymlink:
			if _, err := os.Lstat(fullPath); err == nil {
				_ = os.Remove(fullPath)
			}
			if meta.SymlinkTarget == "" {
				return &PreimageError{Path: fullPath, Message: "symlink preimage missing target"}
			}
			if err := os.Symlink(meta.SymlinkTarget, fullPath); err != nil {
				return err
			}
		case PreimageDirectory:
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				if err := os.MkdirAll(fullPath, 0o755); err != nil {
					return err
				}
			}
		}

		if err := restoreMetadata(fullPath, meta); err != nil {
			return err
		}
	}

	// Pass 2: restore directory metadata, deepest-first.
	sort.Slice(dirsToRestore, func(i, j int) bool {
		return pathDepth(dirsToRestore[i].relPath) > pathDepth(dirsToRestore[j].relPath)
	})
	for _, d := range dirsToRestore {
		meta, err := readPreimageMetadata(preimageDir, d.hash)
		if err != nil {
			return err
		}
		fullPath := filepath.Join(workingRoot, meta.RelativePath)
		if _, err := os.Stat(fullPath); err == nil {
			if err := restoreMetadata(fullPath, meta); err != nil {
				return err
			}
		}
	}

	return nil
}

func restoreMetadata(path string, meta PreimageMetadata) error {
	if err := os.Chmod(path, os.FileMode(meta.Mode&0o7777)); err != nil {
		return err
	}

	if current, err := xattr.LList(path); err == nil {
		for _, name := range current {
			if _, ok := meta.Xattrs[name]; !ok {
				_ = xattr.LRemove(path, name)
			}
		}
	}
	for name, value := range meta.Xattrs {
		_ = xattr.LSet(path, name, value)
	}

	return restoreMtime(path, meta.MtimeNs)
}

func restoreMtime(path string, mtimeNs int64) error {
	mtime := time.Unix(0, mtimeNs)
	return os.Chtimes(path, mtime, mtime)
}

func pathDepth(path string) int {
	normalized := strings.ReplaceAll(path, "\\", "/")
	return strings.Count(normalized, "/")
}
