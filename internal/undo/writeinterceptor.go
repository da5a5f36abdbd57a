package undo

// WriteInterceptor is the shared write-interception contract called by
// whichever filesystem backend is in front of the working root (the FUSE
// passthrough adapter, or a direct API caller). On the first mutating touch
// of a path within a step, the implementation captures the full preimage;
// subsequent touches within the same step are no-ops for capture.
type WriteInterceptor interface {
	PreWrite(path string) error
	PreUnlink(path string, isDir bool) error
	PreRename(from, to string) error
	PostCreate(path string) error
	PostMkdir(path string) error
	PreSetattr(path string) error
	PreLink(target, linkPath string) error
	PostSymlink(target, linkPath string) error
	PreXattr(path string) error
	PreOpenTrunc(path string) error
	PreFallocate(path string) error
	PreCopyFileRange(dstPath string) error
	CurrentStep() (StepID, bool)
}
