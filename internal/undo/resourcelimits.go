package undo

import (
	"os"
	"path/filepath"
	"strconv"
)

// calculateStepSize sums the size in bytes of everything under a step
// directory (manifest, preimage metadata, compressed preimage data).
func calculateStepSize(stepDir string) (uint64, error) {
	var total uint64

	entries, err := os.ReadDir(stepDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	for _, entry := range entries {
		path := filepath.Join(stepDir, entry.Name())
		if entry.IsDir() {
			sub, err := calculateStepSize(path)
			if err != nil {
				return 0, err
			}
			total += sub
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += uint64(info.Size())
	}
	return total, nil
}

// calculateTotalLogSize sums calculateStepSize across every completed step.
func calculateTotalLogSize(stepsDir string, completedSteps []StepID) (uint64, error) {
	var total uint64
	for _, id := range completedSteps {
		size, err := calculateStepSize(filepath.Join(stepsDir, strconv.FormatInt(int64(id), 10)))
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// evictIfNeeded evicts the oldest completed steps, FIFO, until the
// configured step-count and log-size limits are satisfied. Evicted steps'
// directories are removed from disk and their barriers dropped.
func evictIfNeeded(stepsDir string, tracker *stepTracker, barriers *barrierTracker, limits ResourceLimitsConfig, undoDir string) ([]StepID, error) {
	var evicted []StepID
	completed := tracker.completed()

	if limits.MaxStepCount != nil {
		maxCount := *limits.MaxStepCount
		for len(completed) > maxCount {
			oldest := completed[0]
			if err := evictStep(stepsDir, oldest); err != nil {
				return nil, err
			}
			tracker.removeCompleted(oldest)
			completed = completed[1:]
			evicted = append(evicted, oldest)
		}
	}

	if limits.MaxLogSizeBytes != nil {
		maxSize := *limits.MaxLogSizeBytes
		currentSize, err := calculateTotalLogSize(stepsDir, completed)
		if err != nil {
			return nil, err
		}
		for currentSize > maxSize && len(completed) > 0 {
			oldest := completed[0]
			stepSize, err := calculateStepSize(filepath.Join(stepsDir, strconv.FormatInt(int64(oldest), 10)))
			if err != nil {
				return nil, err
			}
			if err := evictStep(stepsDir, oldest); err != nil {
				return nil, err
			}
			tracker.removeCompleted(oldest)
			completed = completed[1:]
			if stepSize > currentSize {
				currentSize = 0
			} else {
				currentSize -= stepSize
			}
			evicted = append(evicted, oldest)
		}
	}

	if len(evicted) > 0 {
		barriers.removeBarriersForSteps(evicted)
		if err := barriers.save(undoDir); err != nil {
			return evicted, err
		}
	}

	return evicted, nil
}

func evictStep(stepsDir string, id StepID) error {
	stepDir := filepath.Join(stepsDir, strconv.FormatInt(int64(id), 10))
	if _, err := os.Stat(stepDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.RemoveAll(stepDir)
}
