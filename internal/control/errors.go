package control

import "fmt"

// MalformedJsonError wraps a JSON syntax/schema error from a line that
// isn't a recognizable control message at all.
type MalformedJsonError struct{ Source error }

func (e *MalformedJsonError) Error() string { return fmt.Sprintf("malformed JSON: %s", e.Source) }
func (e *MalformedJsonError) Unwrap() error { return e.Source }

// UnknownMessageTypeError is returned for syntactically valid JSON whose
// "type" field doesn't match any known message variant.
type UnknownMessageTypeError struct{ Line string }

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Line)
}

// OversizedMessageError is returned when a line exceeds MaxMessageSize.
type OversizedMessageError struct {
	MaxSize    int
	ActualSize int
}

func (e *OversizedMessageError) Error() string {
	return fmt.Sprintf("message exceeds maximum size of %d bytes (got %d)", e.MaxSize, e.ActualSize)
}

// UnexpectedStepCompletedError is returned for a step_completed with no
// matching step_started.
type UnexpectedStepCompletedError struct{ ID uint64 }

func (e *UnexpectedStepCompletedError) Error() string {
	return fmt.Sprintf("step_completed for unknown command %d: no matching step_started", e.ID)
}

// DuplicateStepStartedError is returned for a second step_started for a
// command that already has one.
type DuplicateStepStartedError struct{ ID uint64 }

func (e *DuplicateStepStartedError) Error() string {
	return fmt.Sprintf("duplicate step_started for command %d", e.ID)
}

// OutputForUnknownCommandError is returned for output referencing a command
// ID the handler has no record of.
type OutputForUnknownCommandError struct{ ID uint64 }

func (e *OutputForUnknownCommandError) Error() string {
	return fmt.Sprintf("output for unknown command %d", e.ID)
}

// UnexpectedStepStartedError is returned for a step_started with no
// matching pending exec.
type UnexpectedStepStartedError struct{ ID uint64 }

func (e *UnexpectedStepStartedError) Error() string {
	return fmt.Sprintf("step_started for unknown command %d: no matching exec", e.ID)
}

// CancelUnknownCommandError is returned for a cancel referencing a command
// ID that isn't pending or active.
type CancelUnknownCommandError struct{ ID uint64 }

func (e *CancelUnknownCommandError) Error() string {
	return fmt.Sprintf("cancel for unknown command %d", e.ID)
}

// CancelCommandAwaitingCompletionError is not a protocol violation — it
// reports that a cancel was recorded against an already-active command, and
// the channel is now waiting for the VM's own step_completed to finalize it.
type CancelCommandAwaitingCompletionError struct{ ID uint64 }

func (e *CancelCommandAwaitingCompletionError) Error() string {
	return fmt.Sprintf("command %d cancel sent; awaiting step_completed from VM", e.ID)
}
