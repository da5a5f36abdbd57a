package undo

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStepFile(t *testing.T, stepsDir string, id StepID, size int) {
	t.Helper()
	dir := filepath.Join(stepsDir, strconv.FormatInt(int64(id), 10))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), make([]byte, size), 0o644))
}

func TestCalculateStepSizeSumsNestedFiles(t *testing.T) {
	stepDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stepDir, "manifest.json"), make([]byte, 10), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(stepDir, "preimages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stepDir, "preimages", "a.dat"), make([]byte, 20), 0o644))

	size, err := calculateStepSize(stepDir)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), size)
}

func TestCalculateStepSizeMissingDirIsZero(t *testing.T) {
	size, err := calculateStepSize(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func TestEvictIfNeededEvictsOldestByStepCount(t *testing.T) {
	stepsDir := t.TempDir()
	undoDir := t.TempDir()
	tracker := newStepTracker()
	barriers := newBarrierTracker()

	for _, id := range []StepID{1, 2, 3} {
		writeStepFile(t, stepsDir, id, 5)
		tracker.addCompleted(id)
	}

	maxCount := 1
	evicted, err := evictIfNeeded(stepsDir, tracker, barriers, ResourceLimitsConfig{MaxStepCount: &maxCount}, undoDir)
	require.NoError(t, err)
	assert.Equal(t, []StepID{1, 2}, evicted)
	assert.Equal(t, []StepID{3}, tracker.completed())

	_, err = os.Stat(filepath.Join(stepsDir, "1"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(stepsDir, "3"))
	assert.NoError(t, err)
}

func TestEvictIfNeededEvictsByLogSize(t *testing.T) {
	stepsDir := t.TempDir()
	undoDir := t.TempDir()
	tracker := newStepTracker()
	barriers := newBarrierTracker()

	writeStepFile(t, stepsDir, 1, 100)
	writeStepFile(t, stepsDir, 2, 10)
	tracker.addCompleted(1)
	tracker.addCompleted(2)

	maxSize := uint64(50)
	evicted, err := evictIfNeeded(stepsDir, tracker, barriers, ResourceLimitsConfig{MaxLogSizeBytes: &maxSize}, undoDir)
	require.NoError(t, err)
	assert.Equal(t, []StepID{1}, evicted)
	assert.Equal(t, []StepID{2}, tracker.completed())
}

func TestEvictIfNeededRemovesBarriersForEvictedSteps(t *testing.T) {
	stepsDir := t.TempDir()
	undoDir := t.TempDir()
	tracker := newStepTracker()
	barriers := newBarrierTracker()

	writeStepFile(t, stepsDir, 1, 5)
	tracker.addCompleted(1)
	barriers.createBarrier(1, nil)

	maxCount := 0
	_, err := evictIfNeeded(stepsDir, tracker, barriers, ResourceLimitsConfig{MaxStepCount: &maxCount}, undoDir)
	require.NoError(t, err)
	assert.Empty(t, barriers.snapshot())

	reloaded := loadBarrierTracker(undoDir)
	assert.Empty(t, reloaded.snapshot())
}

func TestEvictIfNeededNoLimitsIsNoop(t *testing.T) {
	stepsDir := t.TempDir()
	undoDir := t.TempDir()
	tracker := newStepTracker()
	barriers := newBarrierTracker()
	writeStepFile(t, stepsDir, 1, 5)
	tracker.addCompleted(1)

	evicted, err := evictIfNeeded(stepsDir, tracker, barriers, ResourceLimitsConfig{}, undoDir)
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, []StepID{1}, tracker.completed())
}
