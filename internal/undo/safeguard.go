package undo

// safeguardTracker tracks per-step safeguard counters and checks thresholds
// before a potentially destructive operation proceeds.
type safeguardTracker struct {
	config          SafeguardConfig
	nextSafeguardID SafeguardID
	deleteCount     uint64
	deletedPaths    []string
	allowedKinds    map[string]struct{}
}

func newSafeguardTracker(config SafeguardConfig) *safeguardTracker {
	return &safeguardTracker{
		config:          config,
		nextSafeguardID: 1,
		allowedKinds:    map[string]struct{}{},
	}
}

// reset clears per-step counters; called when a new step is opened.
func (t *safeguardTracker) reset() {
	t.deleteCount = 0
	t.deletedPaths = nil
	t.allowedKinds = map[string]struct{}{}
}

// checkDelete records a delete operation, returning a SafeguardEvent if the
// configured threshold was just reached for the first time this step.
func (t *safeguardTracker) checkDelete(path string, stepID StepID) *SafeguardEvent {
	t.deleteCount++
	t.deletedPaths = append(t.deletedPaths, path)

	if t.config.DeleteThreshold == nil {
		return nil
	}
	threshold := *t.config.DeleteThreshold
	if t.deleteCount < threshold {
		return nil
	}
	if _, ok := t.allowedKinds[SafeguardDeleteThreshold.discriminant()]; ok {
		return nil
	}

	samples := make([]string, len(t.deletedPaths))
	copy(samples, t.deletedPaths)
	return &SafeguardEvent{
		SafeguardID: t.nextID(),
		StepID:      stepID,
		Kind:        SafeguardDeleteThreshold,
		DeleteCount: t.deleteCount,
		Threshold:   threshold,
		SamplePaths: samples,
	}
}

// checkOverwrite returns a SafeguardEvent if overwriting an existing file of
// the given size crosses the configured threshold.
func (t *safeguardTracker) checkOverwrite(path string, fileSize uint64, stepID StepID) *SafeguardEvent {
	if t.config.OverwriteFileSizeThreshold == nil {
		return nil
	}
	threshold := *t.config.OverwriteFileSizeThreshold
	if fileSize < threshold {
		return nil
	}
	if _, ok := t.allowedKinds[SafeguardOverwriteLargeFile.discriminant()]; ok {
		return nil
	}
	return &SafeguardEvent{
		SafeguardID: t.nextID(),
		StepID:      stepID,
		Kind:        SafeguardOverwriteLargeFile,
		Path:        path,
		FileSize:    fileSize,
		Threshold:   threshold,
		SamplePaths: []string{path},
	}
}

// checkRenameOver returns a SafeguardEvent if a rename that would overwrite
// an existing destination crosses the configured policy.
func (t *safeguardTracker) checkRenameOver(source, destination string, stepID StepID) *SafeguardEvent {
	if !t.config.RenameOverExisting {
		return nil
	}
	if _, ok := t.allowedKinds[SafeguardRenameOverExisting.discriminant()]; ok {
		return nil
	}
	return &SafeguardEvent{
		SafeguardID: t.nextID(),
		StepID:      stepID,
		Kind:        SafeguardRenameOverExisting,
		Source:      source,
		Destination: destination,
		SamplePaths: []string{source, destination},
	}
}

// markAllowed records that a safeguard kind has been allowed for the
// current step, preventing it from re-triggering.
func (t *safeguardTracker) markAllowed(kind SafeguardKind) {
	t.allowedKinds[kind.discriminant()] = struct{}{}
}

func (t *safeguardTracker) nextID() SafeguardID {
	id := t.nextSafeguardID
	t.nextSafeguardID++
	return id
}
