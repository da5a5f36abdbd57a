package fsintercept

import (
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// PassthroughFS mirrors a directory on the host filesystem into the FUSE
// mount, one to one. Every inode it hands out maps to a real host path
// tracked in an InodePathMap; every op is served with a direct syscall
// against that path. It performs no write interception of its own —
// InterceptedFs wraps it to add that.
type PassthroughFS struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex

	inodes *InodePathMap

	uid uint32
	gid uint32

	dirHandles  map[fuseops.HandleID]*dirHandle
	fileHandles map[fuseops.HandleID]*os.File
	nextHandle  fuseops.HandleID
}

type dirHandle struct {
	entries []fuseutil.Dirent
}

// NewPassthroughFS returns a filesystem rooted at root, reporting uid/gid
// as the owner of every inode (the sandbox runs as a single user).
func NewPassthroughFS(root string, uid, gid uint32) *PassthroughFS {
	return &PassthroughFS{
		inodes:      NewInodePathMap(root),
		uid:         uid,
		gid:         gid,
		dirHandles:  make(map[fuseops.HandleID]*dirHandle),
		fileHandles: make(map[fuseops.HandleID]*os.File),
	}
}

// InodeMap exposes the underlying path table so InterceptedFs can resolve
// paths for its write-interception hooks without duplicating lookups.
func (fs *PassthroughFS) InodeMap() *InodePathMap { return fs.inodes }

func (fs *PassthroughFS) allocHandle() fuseops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextHandle++
	return fs.nextHandle
}

func (fs *PassthroughFS) attributesFor(path string) (fuseops.InodeAttributes, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return fs.attributesFromFileInfo(fi), nil
}

func (fs *PassthroughFS) attributesFromFileInfo(fi os.FileInfo) fuseops.InodeAttributes {
	var nlink uint32 = 1
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		nlink = uint32(sys.Nlink)
	}
	mtime := fi.ModTime()
	return fuseops.InodeAttributes{
		Size:   uint64(fi.Size()),
		Nlink:  nlink,
		Mode:   fi.Mode(),
		Atime:  mtime,
		Mtime:  mtime,
		Ctime:  mtime,
		Crtime: mtime,
		Uid:    fs.uid,
		Gid:    fs.gid,
	}
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) Init(op *fuseops.InitOp) (err error) {
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) LookUpInode(op *fuseops.LookUpInodeOp) (err error) {
	childPath, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	fi, statErr := os.Lstat(childPath)
	if statErr != nil {
		err = fuse.ENOENT
		return
	}
	inode := inodeIDFromStat(fi)
	fs.inodes.Insert(inode, childPath)
	op.Entry.Child = inode
	op.Entry.Attributes = fs.attributesFromFileInfo(fi)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	op.Attributes, err = fs.attributesFor(path)
	if err != nil {
		err = fuse.ENOENT
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	if op.Mode != nil {
		if err = os.Chmod(path, *op.Mode); err != nil {
			return
		}
	}
	if op.Size != nil {
		if err = os.Truncate(path, int64(*op.Size)); err != nil {
			return
		}
	}
	if op.Mtime != nil {
		atime := time.Now()
		if op.Atime != nil {
			atime = *op.Atime
		}
		if err = os.Chtimes(path, atime, *op.Mtime); err != nil {
			return
		}
	}
	op.Attributes, err = fs.attributesFor(path)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) ForgetInode(op *fuseops.ForgetInodeOp) (err error) {
	fs.inodes.Remove(op.Inode)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) MkDir(op *fuseops.MkDirOp) (err error) {
	path, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	if err = os.Mkdir(path, op.Mode); err != nil {
		if os.IsExist(err) {
			err = fuse.EEXIST
		}
		return
	}
	fi, statErr := os.Lstat(path)
	if statErr != nil {
		err = statErr
		return
	}
	inode := inodeIDFromStat(fi)
	fs.inodes.Insert(inode, path)
	op.Entry.Child = inode
	op.Entry.Attributes = fs.attributesFromFileInfo(fi)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) MkNode(op *fuseops.MkNodeOp) (err error) {
	path, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, op.Mode)
	if err != nil {
		if os.IsExist(err) {
			err = fuse.EEXIST
		}
		return
	}
	f.Close()
	fi, statErr := os.Lstat(path)
	if statErr != nil {
		err = statErr
		return
	}
	inode := inodeIDFromStat(fi)
	fs.inodes.Insert(inode, path)
	op.Entry.Child = inode
	op.Entry.Attributes = fs.attributesFromFileInfo(fi)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) CreateFile(op *fuseops.CreateFileOp) (err error) {
	path, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, op.Mode)
	if err != nil {
		if os.IsExist(err) {
			err = fuse.EEXIST
		}
		return
	}
	fi, statErr := f.Stat()
	if statErr != nil {
		f.Close()
		err = statErr
		return
	}
	inode := inodeIDFromStat(fi)
	fs.inodes.Insert(inode, path)
	op.Entry.Child = inode
	op.Entry.Attributes = fs.attributesFromFileInfo(fi)
	op.Handle = fs.allocHandle()

	fs.mu.Lock()
	fs.fileHandles[op.Handle] = f
	fs.mu.Unlock()
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) CreateSymlink(op *fuseops.CreateSymlinkOp) (err error) {
	path, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	if err = os.Symlink(op.Target, path); err != nil {
		if os.IsExist(err) {
			err = fuse.EEXIST
		}
		return
	}
	fi, statErr := os.Lstat(path)
	if statErr != nil {
		err = statErr
		return
	}
	inode := inodeIDFromStat(fi)
	fs.inodes.Insert(inode, path)
	op.Entry.Child = inode
	op.Entry.Attributes = fs.attributesFromFileInfo(fi)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) CreateLink(op *fuseops.CreateLinkOp) (err error) {
	targetPath, err := fs.inodes.Get(op.Target)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	linkPath, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	if err = os.Link(targetPath, linkPath); err != nil {
		if os.IsExist(err) {
			err = fuse.EEXIST
		}
		return
	}
	fi, statErr := os.Lstat(linkPath)
	if statErr != nil {
		err = statErr
		return
	}
	inode := inodeIDFromStat(fi)
	fs.inodes.Insert(inode, linkPath)
	op.Entry.Child = inode
	op.Entry.Attributes = fs.attributesFromFileInfo(fi)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) RmDir(op *fuseops.RmDirOp) (err error) {
	path, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	fi, statErr := os.Lstat(path)
	if err = os.Remove(path); err != nil {
		return
	}
	if statErr == nil {
		fs.inodes.Remove(inodeIDFromStat(fi))
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) Unlink(op *fuseops.UnlinkOp) (err error) {
	path, err := fs.inodes.Resolve(op.Parent, op.Name)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	fi, statErr := os.Lstat(path)
	if err = os.Remove(path); err != nil {
		return
	}
	if statErr == nil {
		fs.inodes.Remove(inodeIDFromStat(fi))
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) Rename(op *fuseops.RenameOp) (err error) {
	oldPath, err := fs.inodes.Resolve(op.OldParent, op.OldName)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	newPath, err := fs.inodes.Resolve(op.NewParent, op.NewName)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	if err = os.Rename(oldPath, newPath); err != nil {
		return
	}
	_ = fs.inodes.Rename(op.OldParent, op.OldName, op.NewParent, op.NewName)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) ReadSymlink(op *fuseops.ReadSymlinkOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	op.Target, err = os.Readlink(path)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) OpenDir(op *fuseops.OpenDirOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	dirents := make([]fuseutil.Dirent, 0, len(entries))
	for i, entry := range entries {
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  inodeIDFromStat(info),
			Name:   entry.Name(),
			Type:   direntType(entry),
		})
	}

	op.Handle = fs.allocHandle()
	fs.mu.Lock()
	fs.dirHandles[op.Handle] = &dirHandle{entries: dirents}
	fs.mu.Unlock()
	return
}

func direntType(entry os.DirEntry) fuseutil.DirentType {
	if entry.IsDir() {
		return fuseutil.DT_Directory
	}
	if entry.Type()&os.ModeSymlink != 0 {
		return fuseutil.DT_Link
	}
	return fuseutil.DT_File
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) ReadDir(op *fuseops.ReadDirOp) (err error) {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		err = fuse.EIO
		return
	}

	for i := int(op.Offset); i < len(dh.entries); i++ {
		data := fuseutil.AppendDirent(op.Data, dh.entries[i])
		if len(data) > op.Size {
			break
		}
		op.Data = data
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) (err error) {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) OpenFile(op *fuseops.OpenFileOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		f, err = os.Open(path)
		if err != nil {
			return
		}
	}
	op.Handle = fs.allocHandle()
	fs.mu.Lock()
	fs.fileHandles[op.Handle] = f
	fs.mu.Unlock()
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) ReadFile(op *fuseops.ReadFileOp) (err error) {
	fs.mu.Lock()
	f, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		err = fuse.EIO
		return
	}
	buf := make([]byte, op.Size)
	n, readErr := f.ReadAt(buf, op.Offset)
	op.Data = buf[:n]
	if readErr != nil && readErr != io.EOF {
		err = readErr
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) WriteFile(op *fuseops.WriteFileOp) (err error) {
	fs.mu.Lock()
	f, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		err = fuse.EIO
		return
	}
	_, err = f.WriteAt(op.Data, op.Offset)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) SyncFile(op *fuseops.SyncFileOp) (err error) {
	fs.mu.Lock()
	f, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return
	}
	err = f.Sync()
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) FlushFile(op *fuseops.FlushFileOp) (err error) {
	fs.mu.Lock()
	f, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return
	}
	err = f.Sync()
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) (err error) {
	fs.mu.Lock()
	f, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()
	if ok {
		f.Close()
	}
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) GetXattr(op *fuseops.GetXattrOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	value, err := lgetxattr(path, op.Name)
	if err != nil {
		return
	}
	if op.Size != 0 && len(value) > op.Size {
		err = syscall.ERANGE
		return
	}
	op.Data = value
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) ListXattr(op *fuseops.ListXattrOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	names, err := llistxattr(path)
	if err != nil {
		return
	}
	var joined []byte
	for _, name := range names {
		joined = append(joined, []byte(name)...)
		joined = append(joined, 0)
	}
	if op.Size != 0 && len(joined) > op.Size {
		err = syscall.ERANGE
		return
	}
	op.Data = joined
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) RemoveXattr(op *fuseops.RemoveXattrOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	return lremovexattr(path, op.Name)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) SetXattr(op *fuseops.SetXattrOp) (err error) {
	path, err := fs.inodes.Get(op.Inode)
	if err != nil {
		err = fuse.ENOENT
		return
	}
	return lsetxattr(path, op.Name, op.Value, 0)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *PassthroughFS) StatFS(op *fuseops.StatFSOp) (err error) {
	return
}

func inodeIDFromStat(fi os.FileInfo) fuseops.InodeID {
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		return fuseops.InodeID(sys.Ino)
	}
	return fuseops.InodeID(0)
}
