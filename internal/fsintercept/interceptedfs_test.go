package fsintercept

import (
	"errors"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxfs/codeundo/internal/control"
	"github.com/sandboxfs/codeundo/internal/undo"
)

type recordingInterceptor struct {
	calls      []string
	denyWrites bool
	stepID     undo.StepID
	hasStep    bool
}

func (r *recordingInterceptor) PreWrite(path string) error {
	r.calls = append(r.calls, "pre_write:"+path)
	if r.denyWrites {
		return errors.New("denied")
	}
	return nil
}
func (r *recordingInterceptor) PreUnlink(path string, isDir bool) error {
	r.calls = append(r.calls, "pre_unlink:"+path)
	return nil
}
func (r *recordingInterceptor) PreRename(from, to string) error {
	r.calls = append(r.calls, "pre_rename:"+from+"->"+to)
	return nil
}
func (r *recordingInterceptor) PostCreate(path string) error {
	r.calls = append(r.calls, "post_create:"+path)
	return nil
}
func (r *recordingInterceptor) PostMkdir(path string) error {
	r.calls = append(r.calls, "post_mkdir:"+path)
	return nil
}
func (r *recordingInterceptor) PreSetattr(path string) error {
	r.calls = append(r.calls, "pre_setattr:"+path)
	return nil
}
func (r *recordingInterceptor) PreLink(target, linkPath string) error {
	r.calls = append(r.calls, "pre_link:"+target+"->"+linkPath)
	return nil
}
func (r *recordingInterceptor) PostSymlink(target, linkPath string) error {
	r.calls = append(r.calls, "post_symlink:"+target+"->"+linkPath)
	return nil
}
func (r *recordingInterceptor) PreXattr(path string) error {
	r.calls = append(r.calls, "pre_xattr:"+path)
	return nil
}
func (r *recordingInterceptor) PreOpenTrunc(path string) error {
	r.calls = append(r.calls, "pre_open_trunc:"+path)
	return nil
}
func (r *recordingInterceptor) PreFallocate(path string) error { return nil }
func (r *recordingInterceptor) PreCopyFileRange(dstPath string) error { return nil }
func (r *recordingInterceptor) CurrentStep() (undo.StepID, bool) {
	return r.stepID, r.hasStep
}

func newTestFs(t *testing.T, interceptor *recordingInterceptor) (*InterceptedFs, *PassthroughFS) {
	t.Helper()
	root := t.TempDir()
	inner := NewPassthroughFS(root, 1000, 1000)
	ifs := NewInterceptedFs(inner, interceptor, control.NewInFlightTracker())
	return ifs, inner
}

func TestInterceptedFsCreateFileCallsPostCreate(t *testing.T) {
	interceptor := &recordingInterceptor{}
	ifs, _ := newTestFs(t, interceptor)

	op := &fuseops.CreateFileOp{Parent: RootInodeID, Name: "new.txt", Mode: 0644}
	require.NoError(t, ifs.CreateFile(op))

	assert.Contains(t, interceptor.calls[len(interceptor.calls)-1], "post_create:")
}

func TestInterceptedFsWriteCallsPreWrite(t *testing.T) {
	interceptor := &recordingInterceptor{}
	ifs, _ := newTestFs(t, interceptor)

	createOp := &fuseops.CreateFileOp{Parent: RootInodeID, Name: "f.txt", Mode: 0644}
	require.NoError(t, ifs.CreateFile(createOp))

	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Handle: createOp.Handle, Data: []byte("x")}
	require.NoError(t, ifs.WriteFile(writeOp))

	found := false
	for _, c := range interceptor.calls {
		if c == "pre_write:"+mustResolve(t, ifs, createOp.Entry.Child) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestInterceptedFsWriteDeniedByInterceptorReturnsEACCES(t *testing.T) {
	interceptor := &recordingInterceptor{denyWrites: true}
	ifs, _ := newTestFs(t, interceptor)

	createOp := &fuseops.CreateFileOp{Parent: RootInodeID, Name: "f.txt", Mode: 0644}
	require.NoError(t, ifs.CreateFile(createOp))

	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Handle: createOp.Handle, Data: []byte("x")}
	err := ifs.WriteFile(writeOp)
	assert.Error(t, err)
}

func TestInterceptedFsMkdirCallsPostMkdir(t *testing.T) {
	interceptor := &recordingInterceptor{}
	ifs, _ := newTestFs(t, interceptor)

	op := &fuseops.MkDirOp{Parent: RootInodeID, Name: "sub", Mode: 0755}
	require.NoError(t, ifs.MkDir(op))

	assert.Contains(t, interceptor.calls[len(interceptor.calls)-1], "post_mkdir:")
}

func TestInterceptedFsRenameCallsPreRename(t *testing.T) {
	interceptor := &recordingInterceptor{}
	ifs, _ := newTestFs(t, interceptor)

	require.NoError(t, ifs.CreateFile(&fuseops.CreateFileOp{Parent: RootInodeID, Name: "a.txt", Mode: 0644}))
	require.NoError(t, ifs.Rename(&fuseops.RenameOp{OldParent: RootInodeID, OldName: "a.txt", NewParent: RootInodeID, NewName: "b.txt"}))

	assert.Contains(t, interceptor.calls[len(interceptor.calls)-1], "pre_rename:")
}

func TestInterceptedFsUnlinkCallsPreUnlink(t *testing.T) {
	interceptor := &recordingInterceptor{}
	ifs, _ := newTestFs(t, interceptor)

	require.NoError(t, ifs.CreateFile(&fuseops.CreateFileOp{Parent: RootInodeID, Name: "a.txt", Mode: 0644}))
	require.NoError(t, ifs.Unlink(&fuseops.UnlinkOp{Parent: RootInodeID, Name: "a.txt"}))

	assert.Contains(t, interceptor.calls[len(interceptor.calls)-1], "pre_unlink:")
}

func mustResolve(t *testing.T, ifs *InterceptedFs, inode fuseops.InodeID) string {
	t.Helper()
	path, ok := ifs.resolvePath(inode)
	require.True(t, ok)
	return path
}
