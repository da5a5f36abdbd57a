package orchestrator

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/sandboxfs/codeundo/internal/cfg"
	"github.com/sandboxfs/codeundo/internal/control"
	"github.com/sandboxfs/codeundo/internal/fsintercept"
	"github.com/sandboxfs/codeundo/internal/undo"
)

// DirectAPIStepIDBase is the boundary between ordinary command steps
// (allocated sequentially from 1) and steps opened on behalf of a direct
// API caller rather than a VM command. Grounded on
// `sandbox/src/step_adapter.rs` and `common/src/lib.rs::StepType::Api`,
// which describe the same reservation without naming a concrete constant.
const DirectAPIStepIDBase undo.StepID = 1 << 40

// Session owns every per-mount resource: the undo engine, the safeguard
// bridge, the control-channel handler, and the mounted FUSE filesystem.
// One Session exists per sandboxed working directory. Grounded on
// `sandbox/src/session.rs::Session`, trimmed to what a single-process,
// single-mount Go server needs — the Rust version also tracks QEMU process
// handles and STDIO reader/writer tasks that belong to `cmd/`, not here.
type Session struct {
	ID uuid.UUID

	WorkingRoot string
	UndoDir     string

	Engine  *undo.Engine
	Bridge  *SafeguardBridge
	Handler *control.ControlChannelHandler
	Events  <-chan control.HandlerEvent

	mfs *fuse.MountedFileSystem

	nextCommandStepID undo.StepID
	nextDirectStepID  undo.StepID
}

// NewSession builds the undo engine, the FUSE interception stack, and the
// control-channel handler for one working directory, but does not mount
// the filesystem yet — call Mount for that.
func NewSession(c *cfg.Config) (*Session, error) {
	bridge := NewSafeguardBridge()

	engineCfg := undo.Config{
		WorkingRoot:      c.Undo.WorkingRoot,
		UndoDir:          c.Undo.UndoDir,
		SymlinkPolicy:    undo.SymlinkPolicy(c.Undo.SymlinkPolicy),
		Resources:        c.ResourceLimits.ToUndo(),
		Safeguards:       c.Safeguards.ToUndo(),
		RespectGitignore: true,
	}

	engine, err := undo.NewEngine(engineCfg, bridge)
	if err != nil {
		return nil, fmt.Errorf("undo.NewEngine: %w", err)
	}

	adapter := NewStepManagerAdapter(engine)
	handler, events := control.NewControlChannelHandler(
		adapter,
		control.NewInFlightTracker(),
		c.Quiescence.ToControl(),
	)

	return &Session{
		ID:                uuid.New(),
		WorkingRoot:       c.Undo.WorkingRoot,
		UndoDir:           c.Undo.UndoDir,
		Engine:            engine,
		Bridge:            bridge,
		Handler:           handler,
		Events:            events,
		nextCommandStepID: 1,
		nextDirectStepID:  DirectAPIStepIDBase,
	}, nil
}

// NextCommandStepID allocates the next sequential command-step ID.
func (s *Session) NextCommandStepID() undo.StepID {
	id := s.nextCommandStepID
	s.nextCommandStepID++
	return id
}

// NextDirectAPIStepID allocates the next step ID reserved for a direct API
// caller, starting at DirectAPIStepIDBase.
func (s *Session) NextDirectAPIStepID() undo.StepID {
	id := s.nextDirectStepID
	s.nextDirectStepID++
	return id
}

// Mount constructs the FUSE interception stack rooted at the session's
// working directory and mounts it at mountPoint. Grounded on
// `cmd/mount.go`'s `mountWithStorageHandle`: build a `fuseutil.FileSystem`,
// wrap it in `fuseutil.NewFileSystemServer`, then `fuse.Mount`.
func (s *Session) Mount(mountPoint string) error {
	inner := fsintercept.NewPassthroughFS(s.WorkingRoot, uint32(os.Getuid()), uint32(os.Getgid()))
	intercepted := fsintercept.NewInterceptedFs(inner, s.Engine, s.Handler.InFlightTracker())

	server := fuseutil.NewFileSystemServer(intercepted)
	mountCfg := &fuse.MountConfig{
		FSName:     "codeundo",
		Subtype:    "codeundo",
		VolumeName: "codeundo",
	}

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	s.mfs = mfs
	return nil
}

// Wait blocks until the mounted filesystem is unmounted.
func (s *Session) Wait(ctx context.Context) error {
	if s.mfs == nil {
		return fmt.Errorf("session not mounted")
	}
	return s.mfs.Join(ctx)
}

// Unmount requests the kernel tear down the mount.
func (s *Session) Unmount() error {
	if s.mfs == nil {
		return nil
	}
	return fuse.Unmount(s.mfs.Dir())
}
