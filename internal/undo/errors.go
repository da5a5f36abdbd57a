package undo

import "fmt"

// StepNotActiveError is returned when closing a step ID that does not match
// the currently active step.
type StepNotActiveError struct{ StepID StepID }

func (e *StepNotActiveError) Error() string {
	return fmt.Sprintf("step %d is not active", e.StepID)
}

// StepAlreadyActiveError is returned when opening a step while another step
// is already open.
type StepAlreadyActiveError struct{ StepID StepID }

func (e *StepAlreadyActiveError) Error() string {
	return fmt.Sprintf("step %d already active", e.StepID)
}

// NoActiveStepError is returned when closing a step but none is open.
type NoActiveStepError struct{}

func (e *NoActiveStepError) Error() string { return "no active step" }

// ManifestError wraps a failure reading or writing a step manifest.
type ManifestError struct{ Message string }

func (e *ManifestError) Error() string { return fmt.Sprintf("manifest error: %s", e.Message) }

// PreimageError wraps a failure capturing or reading a preimage for a path.
type PreimageError struct {
	Path    string
	Message string
}

func (e *PreimageError) Error() string {
	return fmt.Sprintf("preimage error for path %s: %s", e.Path, e.Message)
}

// DecompressionError wraps a failure decompressing preimage data.
type DecompressionError struct{ Message string }

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompression error: %s", e.Message)
}

// RecoveryError wraps a failure during crash recovery.
type RecoveryError struct{ Message string }

func (e *RecoveryError) Error() string { return fmt.Sprintf("recovery error: %s", e.Message) }

// RollbackBlockedError is returned when rollback would cross one or more
// undo barriers without an explicit force.
type RollbackBlockedError struct {
	Count    int
	Barriers []BarrierInfo
}

func (e *RollbackBlockedError) Error() string {
	return fmt.Sprintf("rollback blocked by %d undo barrier(s)", e.Count)
}

// SafeguardDeniedError is returned when a safeguard handler denies an
// operation; the step is rolled back as a unit.
type SafeguardDeniedError struct {
	SafeguardID SafeguardID
	StepID      StepID
}

func (e *SafeguardDeniedError) Error() string {
	return fmt.Sprintf("safeguard denied: step %d rolled back (safeguard %d)", e.StepID, e.SafeguardID)
}

// StepUnprotectedError is returned when an operation requires a protected
// step but preimage capture for it exceeded the configured size limit.
type StepUnprotectedError struct{ StepID StepID }

func (e *StepUnprotectedError) Error() string {
	return fmt.Sprintf("step %d is unprotected (preimage capture exceeded size limit)", e.StepID)
}

// UndoDisabledError is returned when the on-disk undo log version does not
// match what this binary expects.
type UndoDisabledError struct {
	Expected string
	Found    string
}

func (e *UndoDisabledError) Error() string {
	return fmt.Sprintf("undo disabled: version mismatch (expected %s, found %s)", e.Expected, e.Found)
}
