package fsintercept

import (
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/sandboxfs/codeundo/internal/control"
	"github.com/sandboxfs/codeundo/internal/undo"
)

// oTrunc is the O_TRUNC bit as FUSE reports it in open/create flags. Opening
// an existing file with O_TRUNC is a mutation even though it arrives as
// part of an "open" request.
const oTrunc = 0o1000

// InterceptedFs wraps a PassthroughFS, routing every mutating operation
// through an undo.WriteInterceptor and bracketing it in a
// control.InFlightTracker so the control-channel handler can observe
// quiescence between command steps.
//
// Read-only methods delegate straight to the inner filesystem. Lookup and
// forget are read-only from the interceptor's point of view but still
// update the inode map, since that's the only place paths are learned.
type InterceptedFs struct {
	fuseutil.NotImplementedFileSystem

	inner       *PassthroughFS
	interceptor undo.WriteInterceptor
	inFlight    *control.InFlightTracker
}

// NewInterceptedFs builds the adapter. inner must have been constructed
// with NewPassthroughFS against the same root the interceptor is guarding.
func NewInterceptedFs(inner *PassthroughFS, interceptor undo.WriteInterceptor, inFlight *control.InFlightTracker) *InterceptedFs {
	return &InterceptedFs{
		inner:       inner,
		interceptor: interceptor,
		inFlight:    inFlight,
	}
}

func interceptorErrorToFuseError(err error) error {
	if err == nil {
		return nil
	}
	return fuse.EACCES
}

func (fs *InterceptedFs) resolvePath(inode fuseops.InodeID) (string, bool) {
	path, err := fs.inner.InodeMap().Get(inode)
	return path, err == nil
}

func (fs *InterceptedFs) resolveChildPath(parent fuseops.InodeID, name string) (string, bool) {
	path, err := fs.inner.InodeMap().Resolve(parent, name)
	return path, err == nil
}

// -----------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------

func (fs *InterceptedFs) Init(op *fuseops.InitOp) error {
	return fs.inner.Init(op)
}

// -----------------------------------------------------------------------
// Read-only methods, delegated directly.
// -----------------------------------------------------------------------

func (fs *InterceptedFs) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	return fs.inner.GetInodeAttributes(op)
}

func (fs *InterceptedFs) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	return fs.inner.ReadSymlink(op)
}

func (fs *InterceptedFs) OpenDir(op *fuseops.OpenDirOp) error {
	return fs.inner.OpenDir(op)
}

func (fs *InterceptedFs) ReadDir(op *fuseops.ReadDirOp) error {
	return fs.inner.ReadDir(op)
}

func (fs *InterceptedFs) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	return fs.inner.ReleaseDirHandle(op)
}

func (fs *InterceptedFs) ReadFile(op *fuseops.ReadFileOp) error {
	return fs.inner.ReadFile(op)
}

func (fs *InterceptedFs) FlushFile(op *fuseops.FlushFileOp) error {
	return fs.inner.FlushFile(op)
}

func (fs *InterceptedFs) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return fs.inner.ReleaseFileHandle(op)
}

func (fs *InterceptedFs) SyncFile(op *fuseops.SyncFileOp) error {
	return fs.inner.SyncFile(op)
}

func (fs *InterceptedFs) GetXattr(op *fuseops.GetXattrOp) error {
	return fs.inner.GetXattr(op)
}

func (fs *InterceptedFs) ListXattr(op *fuseops.ListXattrOp) error {
	return fs.inner.ListXattr(op)
}

func (fs *InterceptedFs) StatFS(op *fuseops.StatFSOp) error {
	return fs.inner.StatFS(op)
}

// -----------------------------------------------------------------------
// Lookup and forget: read-only, but the only place paths are learned.
// -----------------------------------------------------------------------

func (fs *InterceptedFs) LookUpInode(op *fuseops.LookUpInodeOp) error {
	return fs.inner.LookUpInode(op)
}

func (fs *InterceptedFs) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return fs.inner.ForgetInode(op)
}

// -----------------------------------------------------------------------
// Mutating methods: WriteInterceptor hooks bracketed by InFlightTracker.
// -----------------------------------------------------------------------

func (fs *InterceptedFs) OpenFile(op *fuseops.OpenFileOp) error {
	if uint32(op.Flags)&oTrunc == 0 {
		return fs.inner.OpenFile(op)
	}

	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if path, ok := fs.resolvePath(op.Inode); ok {
		if err := fs.interceptor.PreOpenTrunc(path); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}
	return fs.inner.OpenFile(op)
}

func (fs *InterceptedFs) WriteFile(op *fuseops.WriteFileOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if path, ok := fs.resolvePath(op.Inode); ok {
		if err := fs.interceptor.PreWrite(path); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}
	return fs.inner.WriteFile(op)
}

func (fs *InterceptedFs) CreateFile(op *fuseops.CreateFileOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	childPath, ok := fs.resolveChildPath(op.Parent, op.Name)
	if !ok {
		return fuse.ENOENT
	}

	fileExisted := pathExists(childPath)
	if fileExisted && uint32(op.Flags)&oTrunc != 0 {
		if err := fs.interceptor.PreOpenTrunc(childPath); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}

	if err := fs.inner.CreateFile(op); err != nil {
		return err
	}

	if !fileExisted {
		_ = fs.interceptor.PostCreate(childPath)
	}
	return nil
}

func (fs *InterceptedFs) MkDir(op *fuseops.MkDirOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if err := fs.inner.MkDir(op); err != nil {
		return err
	}
	if path, ok := fs.resolvePath(op.Entry.Child); ok {
		_ = fs.interceptor.PostMkdir(path)
	}
	return nil
}

func (fs *InterceptedFs) MkNode(op *fuseops.MkNodeOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if err := fs.inner.MkNode(op); err != nil {
		return err
	}
	if path, ok := fs.resolvePath(op.Entry.Child); ok {
		_ = fs.interceptor.PostCreate(path)
	}
	return nil
}

func (fs *InterceptedFs) Unlink(op *fuseops.UnlinkOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if path, ok := fs.resolveChildPath(op.Parent, op.Name); ok {
		if err := fs.interceptor.PreUnlink(path, false); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}
	return fs.inner.Unlink(op)
}

func (fs *InterceptedFs) RmDir(op *fuseops.RmDirOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if path, ok := fs.resolveChildPath(op.Parent, op.Name); ok {
		if err := fs.interceptor.PreUnlink(path, true); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}
	return fs.inner.RmDir(op)
}

func (fs *InterceptedFs) Rename(op *fuseops.RenameOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	oldPath, ok := fs.resolveChildPath(op.OldParent, op.OldName)
	if !ok {
		return fuse.ENOENT
	}
	newPath, ok := fs.resolveChildPath(op.NewParent, op.NewName)
	if !ok {
		return fuse.ENOENT
	}

	if err := fs.interceptor.PreRename(oldPath, newPath); err != nil {
		return interceptorErrorToFuseError(err)
	}
	return fs.inner.Rename(op)
}

func (fs *InterceptedFs) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if path, ok := fs.resolvePath(op.Inode); ok {
		if err := fs.interceptor.PreSetattr(path); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}
	return fs.inner.SetInodeAttributes(op)
}

func (fs *InterceptedFs) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if err := fs.inner.CreateSymlink(op); err != nil {
		return err
	}
	if linkPath, ok := fs.resolvePath(op.Entry.Child); ok {
		_ = fs.interceptor.PostSymlink(op.Target, linkPath)
	}
	return nil
}

func (fs *InterceptedFs) CreateLink(op *fuseops.CreateLinkOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	targetPath, ok := fs.resolvePath(op.Target)
	if !ok {
		return fuse.ENOENT
	}
	linkPath, ok := fs.resolveChildPath(op.Parent, op.Name)
	if !ok {
		return fuse.ENOENT
	}

	if err := fs.interceptor.PreLink(targetPath, linkPath); err != nil {
		return interceptorErrorToFuseError(err)
	}
	return fs.inner.CreateLink(op)
}

func (fs *InterceptedFs) SetXattr(op *fuseops.SetXattrOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if path, ok := fs.resolvePath(op.Inode); ok {
		if err := fs.interceptor.PreXattr(path); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}
	return fs.inner.SetXattr(op)
}

func (fs *InterceptedFs) RemoveXattr(op *fuseops.RemoveXattrOp) error {
	fs.inFlight.BeginOperation()
	defer fs.inFlight.EndOperation()

	if path, ok := fs.resolvePath(op.Inode); ok {
		if err := fs.interceptor.PreXattr(path); err != nil {
			return interceptorErrorToFuseError(err)
		}
	}
	return fs.inner.RemoveXattr(op)
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
