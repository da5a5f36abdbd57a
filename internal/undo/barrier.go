package undo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const barriersFileName = "barriers.json"

// barrierTracker tracks undo barriers created by external-modification
// detection, persisted as a JSON array in {undoDir}/barriers.json.
type barrierTracker struct {
	barriers      []BarrierInfo
	nextBarrierID BarrierID
}

func newBarrierTracker() *barrierTracker {
	return &barrierTracker{nextBarrierID: 1}
}

// loadBarrierTracker reads barrier state from disk, returning a fresh
// tracker if the file is missing or corrupt.
func loadBarrierTracker(undoDir string) *barrierTracker {
	path := filepath.Join(undoDir, barriersFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return newBarrierTracker()
	}
	var barriers []BarrierInfo
	if err := json.Unmarshal(data, &barriers); err != nil {
		return newBarrierTracker()
	}
	var maxID BarrierID
	for _, b := range barriers {
		if b.BarrierID > maxID {
			maxID = b.BarrierID
		}
	}
	return &barrierTracker{barriers: barriers, nextBarrierID: maxID + 1}
}

// save persists barrier state to disk.
func (t *barrierTracker) save(undoDir string) error {
	data, err := json.MarshalIndent(t.barriers, "", "  ")
	if err != nil {
		return &ManifestError{Message: err.Error()}
	}
	return os.WriteFile(filepath.Join(undoDir, barriersFileName), data, 0o644)
}

// createBarrier records a new barrier after the given step.
func (t *barrierTracker) createBarrier(afterStepID StepID, affectedPaths []string) BarrierInfo {
	barrier := BarrierInfo{
		BarrierID:     t.nextBarrierID,
		AfterStepID:   afterStepID,
		Timestamp:     time.Now().UTC(),
		AffectedPaths: affectedPaths,
	}
	t.nextBarrierID++
	t.barriers = append(t.barriers, barrier)
	return barrier
}

// barriersBlockingRollback returns barriers whose AfterStepID is among the
// steps about to be rolled back — rolling back that step would destroy
// the external modification the barrier protects.
func (t *barrierTracker) barriersBlockingRollback(stepsToRollback []StepID) []BarrierInfo {
	stepSet := make(map[StepID]struct{}, len(stepsToRollback))
	for _, id := range stepsToRollback {
		stepSet[id] = struct{}{}
	}
	var blocking []BarrierInfo
	for _, b := range t.barriers {
		if _, ok := stepSet[b.AfterStepID]; ok {
			blocking = append(blocking, b)
		}
	}
	return blocking
}

// removeBarriersForSteps drops all barriers whose AfterStepID is in stepIDs,
// used when those steps are evicted or force-rolled-back.
func (t *barrierTracker) removeBarriersForSteps(stepIDs []StepID) {
	stepSet := make(map[StepID]struct{}, len(stepIDs))
	for _, id := range stepIDs {
		stepSet[id] = struct{}{}
	}
	filtered := t.barriers[:0]
	for _, b := range t.barriers {
		if _, ok := stepSet[b.AfterStepID]; !ok {
			filtered = append(filtered, b)
		}
	}
	t.barriers = filtered
}

// snapshot returns a copy of all current barriers.
func (t *barrierTracker) snapshot() []BarrierInfo {
	out := make([]BarrierInfo, len(t.barriers))
	copy(out, t.barriers)
	return out
}
