package undo

import "sync"

// stepTracker tracks the single currently-open step and the ordered history
// of completed steps. Mirrors the reference StepTracker: one active step at
// a time, a FIFO-ordered completed list that eviction and rollback pop from.
type stepTracker struct {
	mu             sync.Mutex
	activeStep     *StepID
	completedSteps []StepID
}

func newStepTracker() *stepTracker {
	return &stepTracker{}
}

// openStep marks id as the active step. Fails if a step is already active.
func (t *stepTracker) openStep(id StepID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeStep != nil {
		return &StepAlreadyActiveError{StepID: *t.activeStep}
	}
	active := id
	t.activeStep = &active
	return nil
}

// closeStep closes the active step, provided id matches it.
func (t *stepTracker) closeStep(id StepID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeStep == nil {
		return &NoActiveStepError{}
	}
	if *t.activeStep != id {
		return &StepNotActiveError{StepID: id}
	}
	t.activeStep = nil
	t.completedSteps = append(t.completedSteps, id)
	return nil
}

// abortActive clears the active step without appending it to the completed
// list, used when a step is rolled back abnormally — a denied safeguard —
// rather than closed normally. Session state returns to "no active step"
// the same way closeStep leaves it, just without the promotion.
func (t *stepTracker) abortActive(id StepID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeStep == nil {
		return &NoActiveStepError{}
	}
	if *t.activeStep != id {
		return &StepNotActiveError{StepID: id}
	}
	t.activeStep = nil
	return nil
}

// currentStep returns the active step ID, if any.
func (t *stepTracker) currentStep() (StepID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeStep == nil {
		return 0, false
	}
	return *t.activeStep, true
}

// completed returns a snapshot of completed step IDs, oldest first.
func (t *stepTracker) completed() []StepID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepID, len(t.completedSteps))
	copy(out, t.completedSteps)
	return out
}

// removeCompleted drops id from the completed list, used during rollback
// and eviction.
func (t *stepTracker) removeCompleted(id StepID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	filtered := t.completedSteps[:0]
	for _, s := range t.completedSteps {
		if s != id {
			filtered = append(filtered, s)
		}
	}
	t.completedSteps = filtered
}

// addCompleted appends id directly to the completed list, used when
// reconstructing state from the on-disk steps/ directory at startup.
func (t *stepTracker) addCompleted(id StepID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completedSteps = append(t.completedSteps, id)
}
