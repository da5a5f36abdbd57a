package undo

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const undoLogVersion = "1"

// Config bundles the knobs an Engine is constructed with.
type Config struct {
	WorkingRoot    string
	UndoDir        string
	SymlinkPolicy  SymlinkPolicy
	Resources      ResourceLimitsConfig
	Safeguards     SafeguardConfig
	RespectGitignore bool
}

// RecoveryInfo describes a crash recovery performed at startup.
type RecoveryInfo struct {
	PathsRestored int
	PathsDeleted  int
	ManifestValid bool
}

// Engine is the crash-safe undo log: preimage capture, manifests, a
// write-ahead log, rollback, eviction and safeguard arbitration, composed
// around a single working root.
type Engine struct {
	workingRoot string
	undoDir     string
	cfg         Config

	steps    *stepTracker
	barriers *barrierTracker

	mu              sync.Mutex
	touchedPaths    map[string]struct{}
	currentManifest *StepManifest
	stepSizeBytes   uint64
	safeguards      *safeguardTracker
	handler         SafeguardHandler
	gitignore       *gitignoreFilter
}

// NewEngine initializes the on-disk undo layout (version marker, wal/,
// steps/) if absent, reconstructs completed-step state from steps/, and
// loads persisted barriers.
func NewEngine(cfg Config, handler SafeguardHandler) (*Engine, error) {
	versionPath := filepath.Join(cfg.UndoDir, "version")
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.UndoDir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(versionPath, []byte(undoLogVersion), 0o644); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Join(cfg.UndoDir, "wal"), 0o755); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Join(cfg.UndoDir, "steps"), 0o755); err != nil {
			return nil, err
		}
	} else {
		version, err := os.ReadFile(versionPath)
		if err == nil && strings.TrimSpace(string(version)) != undoLogVersion {
			return nil, &UndoDisabledError{Expected: undoLogVersion, Found: strings.TrimSpace(string(version))}
		}
	}

	steps := newStepTracker()
	stepsDir := filepath.Join(cfg.UndoDir, "steps")
	if entries, err := os.ReadDir(stepsDir); err == nil {
		var ids []StepID
		for _, entry := range entries {
			if n, err := strconv.ParseInt(entry.Name(), 10, 64); err == nil {
				ids = append(ids, StepID(n))
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			steps.addCompleted(id)
		}
	}

	if cfg.Safeguards.TimeoutSeconds == 0 {
		cfg.Safeguards = DefaultSafeguardConfig()
	}
	if cfg.SymlinkPolicy == "" {
		cfg.SymlinkPolicy = SymlinkIgnore
	}

	var filter *gitignoreFilter
	if cfg.RespectGitignore {
		filter = buildGitignoreFilter(cfg.WorkingRoot)
	}

	return &Engine{
		workingRoot:  cfg.WorkingRoot,
		undoDir:      cfg.UndoDir,
		cfg:          cfg,
		steps:        steps,
		barriers:     loadBarrierTracker(cfg.UndoDir),
		touchedPaths: map[string]struct{}{},
		safeguards:   newSafeguardTracker(cfg.Safeguards),
		handler:      handler,
		gitignore:    filter,
	}, nil
}

func (e *Engine) walInProgressDir() string { return filepath.Join(e.undoDir, "wal", "in_progress") }
func (e *Engine) stepDir(id StepID) string {
	return filepath.Join(e.undoDir, "steps", strconv.FormatInt(int64(id), 10))
}

// OpenStep opens a new undo step, clearing per-step first-touch and
// safeguard state and preparing a fresh WAL directory.
func (e *Engine) OpenStep(id StepID) error {
	if err := e.steps.openStep(id); err != nil {
		return err
	}

	e.mu.Lock()
	e.touchedPaths = map[string]struct{}{}
	e.currentManifest = newStepManifest(id)
	e.stepSizeBytes = 0
	e.safeguards.reset()
	e.mu.Unlock()

	walDir := e.walInProgressDir()
	if _, err := os.Stat(walDir); err == nil {
		if err := os.RemoveAll(walDir); err != nil {
			return err
		}
	}
	return os.MkdirAll(filepath.Join(walDir, "preimages"), 0o755)
}

// CurrentStep returns the currently open step, if any.
func (e *Engine) CurrentStep() (StepID, bool) {
	return e.steps.currentStep()
}

// CloseStep writes the manifest, promotes the WAL directory to steps/,
// enforces resource limits, and returns the step IDs evicted as a result.
func (e *Engine) CloseStep(id StepID) ([]StepID, error) {
	e.mu.Lock()
	manifest := e.currentManifest
	e.mu.Unlock()

	if manifest != nil {
		if err := manifest.writeTo(e.walInProgressDir()); err != nil {
			return nil, err
		}
	}

	walDir := e.walInProgressDir()
	dstDir := e.stepDir(id)
	if _, err := os.Stat(walDir); err == nil {
		if _, err := os.Stat(dstDir); err == nil {
			if err := os.RemoveAll(dstDir); err != nil {
				return nil, err
			}
		}
		if err := os.Rename(walDir, dstDir); err != nil {
			return nil, err
		}
	}

	if err := e.steps.closeStep(id); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.touchedPaths = map[string]struct{}{}
	e.currentManifest = nil
	e.mu.Unlock()

	evicted, err := evictIfNeeded(filepath.Join(e.undoDir, "steps"), e.steps, e.barriers, e.cfg.Resources, e.undoDir)
	if err != nil {
		return evicted, err
	}
	return evicted, nil
}

// abortCurrentStep rolls back every preimage captured so far in the active
// step, discards its WAL directory without promoting it to steps/, and
// clears the active step — session state returns to "no active step" the
// same way a clean close would, just without completing the step. Used
// when a safeguard is denied: the step that tripped it never finishes.
func (e *Engine) abortCurrentStep(stepID StepID) error {
	e.mu.Lock()
	manifest := e.currentManifest
	e.mu.Unlock()

	walDir := e.walInProgressDir()
	if manifest != nil && len(manifest.Entries) > 0 {
		if err := manifest.writeTo(walDir); err != nil {
			return err
		}
		if err := rollbackStep(walDir, e.workingRoot, e.cfg.SymlinkPolicy); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(walDir); err != nil {
		return err
	}

	e.mu.Lock()
	e.touchedPaths = map[string]struct{}{}
	e.currentManifest = nil
	e.mu.Unlock()

	return e.steps.abortActive(stepID)
}

// Rollback rolls back the most recent count completed steps (pop
// semantics — they are removed from history). force allows rollback to
// cross barriers, returning which barriers were crossed.
func (e *Engine) Rollback(count int, force bool) (RollbackResult, error) {
	completed := e.steps.completed()
	n := count
	if n > len(completed) {
		n = len(completed)
	}
	stepsToRollback := make([]StepID, n)
	for i := 0; i < n; i++ {
		stepsToRollback[i] = completed[len(completed)-1-i]
	}

	blocking := e.barriers.barriersBlockingRollback(stepsToRollback)
	if len(blocking) > 0 && !force {
		return RollbackResult{}, &RollbackBlockedError{Count: len(blocking), Barriers: blocking}
	}

	rolledBack := 0
	for _, stepID := range stepsToRollback {
		dir := e.stepDir(stepID)
		if _, err := os.Stat(dir); err == nil {
			manifest, err := readManifestFrom(dir)
			if err == nil && manifest.Unprotected {
				// The step's preimage coverage was abandoned partway through
				// once its size budget was crossed — restoring it would be a
				// silent partial rollback, so it stays on disk, permanently
				// unrollable, and rollback stops here.
				return RollbackResult{StepsRolledBack: rolledBack, BarriersCrossed: blocking}, &StepUnprotectedError{StepID: stepID}
			}
			if err := rollbackStep(dir, e.workingRoot, e.cfg.SymlinkPolicy); err != nil {
				return RollbackResult{StepsRolledBack: rolledBack}, err
			}
			if err := os.RemoveAll(dir); err != nil {
				return RollbackResult{StepsRolledBack: rolledBack}, err
			}
			e.steps.removeCompleted(stepID)
			rolledBack++
		}
	}

	if force && len(blocking) > 0 {
		e.barriers.removeBarriersForSteps(stepsToRollback)
		if err := e.barriers.save(e.undoDir); err != nil {
			return RollbackResult{StepsRolledBack: rolledBack, BarriersCrossed: blocking}, err
		}
	}

	return RollbackResult{StepsRolledBack: rolledBack, BarriersCrossed: blocking}, nil
}

// ListSteps returns introspection data for every completed step.
func (e *Engine) ListSteps() ([]StepInfo, error) {
	var out []StepInfo
	for _, id := range e.steps.completed() {
		manifest, err := readManifestFrom(e.stepDir(id))
		if err != nil {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, manifest.Timestamp)
		paths := make([]string, 0, len(manifest.Entries))
		for p := range manifest.Entries {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		out = append(out, StepInfo{
			ID:            id,
			StepType:      id.TypeOf(),
			Timestamp:     ts,
			Command:       manifest.Command,
			AffectedPaths: paths,
		})
	}
	return out, nil
}

// CreateBarrier records an undo barrier after the most recently closed
// step, invoked when the engine detects an external modification.
func (e *Engine) CreateBarrier(affectedPaths []string) (BarrierInfo, error) {
	completed := e.steps.completed()
	var after StepID
	if len(completed) > 0 {
		after = completed[len(completed)-1]
	}
	barrier := e.barriers.createBarrier(after, affectedPaths)
	return barrier, e.barriers.save(e.undoDir)
}

// Recover rolls back any incomplete step left in the WAL by a crash.
func (e *Engine) Recover() (*RecoveryInfo, error) {
	walDir := e.walInProgressDir()
	if _, err := os.Stat(walDir); os.IsNotExist(err) {
		return nil, nil
	}

	preimageDir := filepath.Join(walDir, "preimages")
	manifestPath := filepath.Join(walDir, manifestFileName)

	hasPreimages := false
	if entries, err := os.ReadDir(preimageDir); err == nil && len(entries) > 0 {
		hasPreimages = true
	}
	_, manifestErr := os.Stat(manifestPath)
	hasManifest := manifestErr == nil

	if !hasPreimages && !hasManifest {
		if err := os.RemoveAll(walDir); err != nil {
			return nil, err
		}
		return &RecoveryInfo{}, nil
	}

	var manifest *StepManifest
	var manifestValid bool
	if hasManifest {
		m, err := readManifestFrom(walDir)
		if err == nil {
			manifest, manifestValid = m, true
		}
	}
	if manifest == nil {
		m, err := e.rebuildManifestFromPreimages(preimageDir)
		if err != nil {
			return nil, err
		}
		manifest = m
	}

	pathsRestored, pathsDeleted := 0, 0
	for _, entry := range manifest.Entries {
		if entry.ExistedBefore {
			pathsRestored++
		} else {
			pathsDeleted++
		}
	}

	if len(manifest.Entries) > 0 {
		if !manifestValid {
			if err := manifest.writeTo(walDir); err != nil {
				return nil, err
			}
		}
		if err := rollbackStep(walDir, e.workingRoot, e.cfg.SymlinkPolicy); err != nil {
			return nil, &RecoveryError{Message: err.Error()}
		}
	}

	if err := os.RemoveAll(walDir); err != nil {
		return nil, err
	}

	return &RecoveryInfo{PathsRestored: pathsRestored, PathsDeleted: pathsDeleted, ManifestValid: manifestValid}, nil
}

// rebuildManifestFromPreimages reconstructs a StepManifest by scanning
// preimage metadata files, used during recovery when manifest.json is
// missing or corrupt.
func (e *Engine) rebuildManifestFromPreimages(preimageDir string) (*StepManifest, error) {
	manifest := newStepManifest(0)

	entries, err := os.ReadDir(preimageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		hash := strings.TrimSuffix(name, ".meta.json")
		meta, err := readPreimageMetadata(preimageDir, hash)
		if err != nil {
			continue
		}
		manifest.addEntry(meta.RelativePath, hash, meta.ExistedBefore, string(meta.FileType))
	}
	return manifest, nil
}

func normalizedRelativePath(relative string) string {
	return strings.ReplaceAll(relative, "\\", "/")
}

// ensurePreimage captures the preimage for an existing path on first touch
// within the current step. Returns whether this call performed the capture.
func (e *Engine) ensurePreimage(filePath string) (bool, error) {
	relative, err := filepath.Rel(e.workingRoot, filePath)
	if err != nil || strings.HasPrefix(relative, "..") {
		return false, &PreimageError{Path: filePath, Message: "path outside working root"}
	}
	relativeStr := normalizedRelativePath(relative)

	if e.matchesIgnorePattern(relativeStr) {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, touched := e.touchedPaths[relativeStr]; touched {
		return false, nil
	}

	if e.currentManifest != nil && e.currentManifest.Unprotected {
		// The step's size budget was already crossed: stop capturing further
		// preimages, but let the triggering operation through untouched —
		// the step itself still closes normally, it just can no longer be
		// rolled back (StepUnprotectedError is raised there, not here).
		e.touchedPaths[relativeStr] = struct{}{}
		return false, nil
	}

	info, err := os.Lstat(filePath)
	if err != nil {
		return false, nil
	}
	if info.Mode()&os.ModeSymlink != 0 && e.cfg.SymlinkPolicy == SymlinkIgnore {
		return false, nil
	}

	preimageDir := filepath.Join(e.walInProgressDir(), "preimages")
	hash := pathHash(relative)

	meta, dataBytes, err := capturePreimage(filePath, e.workingRoot, preimageDir)
	if err != nil {
		return false, err
	}
	if e.currentManifest != nil {
		e.currentManifest.addEntry(relativeStr, hash, true, string(meta.FileType))
	}
	e.touchedPaths[relativeStr] = struct{}{}

	e.stepSizeBytes += dataBytes
	if limit := e.cfg.Resources.MaxSingleStepSizeBytes; limit != nil && e.stepSizeBytes > *limit {
		if e.currentManifest != nil {
			e.currentManifest.Unprotected = true
		}
	}
	return true, nil
}

// recordCreation records that a path was newly created during this step.
func (e *Engine) recordCreation(filePath string) error {
	relative, err := filepath.Rel(e.workingRoot, filePath)
	if err != nil || strings.HasPrefix(relative, "..") {
		return &PreimageError{Path: filePath, Message: "path outside working root"}
	}
	relativeStr := normalizedRelativePath(relative)

	if e.matchesIgnorePattern(relativeStr) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, touched := e.touchedPaths[relativeStr]; touched {
		return nil
	}

	preimageDir := filepath.Join(e.walInProgressDir(), "preimages")
	hash := pathHash(relative)

	meta, err := captureCreationMarker(filePath, e.workingRoot, preimageDir)
	if err != nil {
		return err
	}
	if e.currentManifest != nil {
		e.currentManifest.addEntry(relativeStr, hash, false, string(meta.FileType))
	}
	e.touchedPaths[relativeStr] = struct{}{}
	return nil
}

// captureTreePreimages recursively captures preimages for everything under
// a directory before it is deleted or renamed away.
func (e *Engine) captureTreePreimages(dirPath string) error {
	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		return nil
	}
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dirPath, entry.Name())
		if _, err := e.ensurePreimage(path); err != nil {
			return err
		}
		if entry.IsDir() {
			if err := e.captureTreePreimages(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) matchesIgnorePattern(relativePath string) bool {
	return e.gitignore.isIgnored(relativePath)
}

// triggerSafeguard blocks on the configured handler (if any) until a
// decision is available, defaulting to Deny when no handler is set or the
// configured timeout elapses.
func (e *Engine) triggerSafeguard(event SafeguardEvent) SafeguardDecision {
	if e.handler == nil {
		return SafeguardDeny
	}
	decisionCh := make(chan SafeguardDecision, 1)
	go func() { decisionCh <- e.handler.OnSafeguardTriggered(event) }()

	timeout := time.Duration(e.cfg.Safeguards.TimeoutSeconds) * time.Second
	select {
	case decision := <-decisionCh:
		if decision == SafeguardAllow {
			e.mu.Lock()
			e.safeguards.markAllowed(event.Kind)
			e.mu.Unlock()
		}
		return decision
	case <-time.After(timeout):
		return SafeguardDeny
	}
}
