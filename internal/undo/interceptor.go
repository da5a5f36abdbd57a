package undo

import "os"

// Engine implements WriteInterceptor directly: the FUSE passthrough adapter
// and any direct API caller both route their mutating operations through
// these methods. Each one is a no-op when no step is open — first-touch
// preimage capture and safeguard arbitration only apply inside a step.
// Grounded on `interceptor/src/undo_interceptor.rs`'s `impl WriteInterceptor
// for UndoInterceptor`.
var _ WriteInterceptor = (*Engine)(nil)

// PreWrite captures the preimage of path before its first write within the
// current step.
func (e *Engine) PreWrite(path string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	_, err := e.ensurePreimage(path)
	return err
}

// PreUnlink captures the preimage of path (and, for a directory, every path
// beneath it) before it is removed, and arbitrates the delete-count
// safeguard.
func (e *Engine) PreUnlink(path string, isDir bool) error {
	stepID, open := e.CurrentStep()
	if !open {
		return nil
	}
	if _, err := e.ensurePreimage(path); err != nil {
		return err
	}
	if isDir {
		if err := e.captureTreePreimages(path); err != nil {
			return err
		}
	}
	return e.arbitrateDelete(path, stepID)
}

// PreRename captures the preimage of the source path, and of the
// destination if it already exists, before a rename. For a directory
// rename it also captures every path beneath the source, since the rename
// moves the whole subtree out from under its current location. Arbitrates
// the rename-over-existing safeguard when the destination is occupied.
func (e *Engine) PreRename(from, to string) error {
	stepID, open := e.CurrentStep()
	if !open {
		return nil
	}
	if _, err := e.ensurePreimage(from); err != nil {
		return err
	}

	destExists := false
	if _, err := os.Lstat(to); err == nil {
		destExists = true
		if _, err := e.ensurePreimage(to); err != nil {
			return err
		}
	}

	if info, err := os.Stat(from); err == nil && info.IsDir() {
		if err := e.captureTreePreimages(from); err != nil {
			return err
		}
	}

	if destExists {
		return e.arbitrateRenameOver(from, to, stepID)
	}
	return nil
}

// PostCreate records that path was newly created by the operation that just
// completed.
func (e *Engine) PostCreate(path string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	return e.recordCreation(path)
}

// PostMkdir records that a directory at path was newly created.
func (e *Engine) PostMkdir(path string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	return e.recordCreation(path)
}

// PreSetattr captures the preimage of path before its attributes (mode,
// ownership, timestamps, or size via truncation) change.
func (e *Engine) PreSetattr(path string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	_, err := e.ensurePreimage(path)
	return err
}

// PreLink captures the preimage of the link target before a new hard link
// to it is created; the target's content is unaffected but its link count
// changes, which rollback must be able to reverse.
func (e *Engine) PreLink(target, linkPath string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	_, err := e.ensurePreimage(target)
	return err
}

// PostSymlink records that linkPath was newly created as a symlink.
func (e *Engine) PostSymlink(target, linkPath string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	return e.recordCreation(linkPath)
}

// PreXattr captures the preimage of path before an extended attribute on it
// is set or removed.
func (e *Engine) PreXattr(path string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	_, err := e.ensurePreimage(path)
	return err
}

// PreOpenTrunc captures the preimage of path before a truncating open
// discards its existing contents, and arbitrates the overwrite-large-file
// safeguard.
func (e *Engine) PreOpenTrunc(path string) error {
	stepID, open := e.CurrentStep()
	if !open {
		return nil
	}

	var sizeBefore uint64
	if info, err := os.Stat(path); err == nil {
		sizeBefore = uint64(info.Size())
	}

	if _, err := e.ensurePreimage(path); err != nil {
		return err
	}
	if sizeBefore == 0 {
		return nil
	}
	return e.arbitrateOverwrite(path, sizeBefore, stepID)
}

// PreFallocate captures the preimage of path before a fallocate call
// changes its allocated extents or size.
func (e *Engine) PreFallocate(path string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	_, err := e.ensurePreimage(path)
	return err
}

// PreCopyFileRange captures the preimage of the destination path before a
// copy_file_range call overwrites part of it.
func (e *Engine) PreCopyFileRange(dstPath string) error {
	if _, open := e.CurrentStep(); !open {
		return nil
	}
	_, err := e.ensurePreimage(dstPath)
	return err
}

// arbitrateDelete records the deletion and, if the configured delete-count
// threshold is crossed for the first time this step, blocks on the
// safeguard handler for a decision.
func (e *Engine) arbitrateDelete(path string, stepID StepID) error {
	e.mu.Lock()
	event := e.safeguards.checkDelete(path, stepID)
	e.mu.Unlock()
	return e.resolveSafeguard(event, stepID)
}

// arbitrateOverwrite blocks on the safeguard handler if truncating an
// existing file of at least the configured size threshold.
func (e *Engine) arbitrateOverwrite(path string, sizeBefore uint64, stepID StepID) error {
	e.mu.Lock()
	event := e.safeguards.checkOverwrite(path, sizeBefore, stepID)
	e.mu.Unlock()
	return e.resolveSafeguard(event, stepID)
}

// arbitrateRenameOver blocks on the safeguard handler if a rename would
// silently replace an existing destination.
func (e *Engine) arbitrateRenameOver(source, destination string, stepID StepID) error {
	e.mu.Lock()
	event := e.safeguards.checkRenameOver(source, destination, stepID)
	e.mu.Unlock()
	return e.resolveSafeguard(event, stepID)
}

// resolveSafeguard blocks on the handler for a decision. A deny rolls back
// the current step immediately — it closes abnormally, its WAL is
// discarded rather than promoted, and session state returns to "no active
// step" — before the denial is reported to the caller, matching spec.md's
// requirement that the step has already been rolled back by the time
// SafeguardDeniedError reaches whoever triggered it.
func (e *Engine) resolveSafeguard(event *SafeguardEvent, stepID StepID) error {
	if event == nil {
		return nil
	}
	if e.triggerSafeguard(*event) == SafeguardAllow {
		return nil
	}
	if err := e.abortCurrentStep(stepID); err != nil {
		return err
	}
	return &SafeguardDeniedError{SafeguardID: event.SafeguardID, StepID: stepID}
}
