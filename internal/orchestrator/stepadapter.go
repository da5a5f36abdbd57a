// Package orchestrator wires an undo.Engine, a control.ControlChannelHandler
// and a fsintercept.InterceptedFs together into one running sandbox session,
// and bridges the synchronous safeguard-confirmation path to the
// asynchronous world the control channel and session host process live in.
package orchestrator

import (
	"github.com/sandboxfs/codeundo/internal/control"
	"github.com/sandboxfs/codeundo/internal/undo"
)

// StepManagerAdapter adapts *undo.Engine to control.StepManager. The two
// interfaces already agree method for method — this exists only so
// internal/control doesn't need to import internal/undo's concrete Engine
// type, keeping the dependency direction single. Grounded on
// `sandbox/src/step_adapter.rs`, whose Rust original is the same kind of
// thin pass-through wrapper for the same reason.
type StepManagerAdapter struct {
	engine *undo.Engine
}

// NewStepManagerAdapter wraps engine for use as a control.StepManager.
func NewStepManagerAdapter(engine *undo.Engine) *StepManagerAdapter {
	return &StepManagerAdapter{engine: engine}
}

var _ control.StepManager = (*StepManagerAdapter)(nil)

func (a *StepManagerAdapter) OpenStep(id undo.StepID) error {
	return a.engine.OpenStep(id)
}

func (a *StepManagerAdapter) CloseStep(id undo.StepID) ([]undo.StepID, error) {
	return a.engine.CloseStep(id)
}

func (a *StepManagerAdapter) CurrentStep() (undo.StepID, bool) {
	return a.engine.CurrentStep()
}
