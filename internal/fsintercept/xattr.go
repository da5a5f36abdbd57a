package fsintercept

import "github.com/pkg/xattr"

// The L-prefixed variants operate on symlinks themselves rather than
// following them, matching FUSE's getxattr/setxattr semantics which always
// act on the inode named by the request, never a target it points at.

func lgetxattr(path, name string) ([]byte, error) {
	return xattr.LGet(path, name)
}

func llistxattr(path string) ([]string, error) {
	return xattr.LList(path)
}

func lremovexattr(path, name string) error {
	return xattr.LRemove(path, name)
}

func lsetxattr(path, name string, value []byte, flags int) error {
	return xattr.LSetWithFlags(path, name, value, flags)
}
