// Package control implements the JSON-Lines command channel between the
// host-side orchestrator and the in-sandbox shim: exec/cancel/rollback
// notifications one way, step boundaries and terminal output the other.
package control

import "encoding/json"

// MessageType is the discriminant carried in every control message's "type"
// field.
type MessageType string

const (
	TypeExec           MessageType = "exec"
	TypeCancel         MessageType = "cancel"
	TypeRollbackNotify MessageType = "rollback_notify"
	TypeStepStarted    MessageType = "step_started"
	TypeOutput         MessageType = "output"
	TypeStepCompleted  MessageType = "step_completed"
)

// OutputStream identifies which terminal stream an Output chunk came from.
type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// HostMessage is sent host to VM: execute a command, cancel one, or notify
// that a rollback occurred. Exactly one of the typed payload fields is
// populated, selected by Type.
type HostMessage struct {
	Type MessageType `json:"type"`

	// Exec
	ID      uint64            `json:"id,omitempty"`
	Command string            `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	// RollbackNotify
	StepID uint64 `json:"step_id,omitempty"`
}

// NewExecMessage builds a HostMessage exec request.
func NewExecMessage(id uint64, command string, env map[string]string, cwd string) HostMessage {
	return HostMessage{Type: TypeExec, ID: id, Command: command, Env: env, Cwd: cwd}
}

// NewCancelMessage builds a HostMessage cancel request.
func NewCancelMessage(id uint64) HostMessage {
	return HostMessage{Type: TypeCancel, ID: id}
}

// NewRollbackNotifyMessage builds a HostMessage rollback notification.
func NewRollbackNotifyMessage(stepID uint64) HostMessage {
	return HostMessage{Type: TypeRollbackNotify, StepID: stepID}
}

// VmMessage is sent VM to host: a step boundary or a chunk of terminal
// output. Exactly one of the typed payload fields is populated, selected
// by Type.
type VmMessage struct {
	Type MessageType `json:"type"`

	// StepStarted, Output, StepCompleted
	ID uint64 `json:"id"`

	// Output
	Stream OutputStream `json:"stream,omitempty"`
	Data   string       `json:"data,omitempty"`

	// StepCompleted
	ExitCode int32 `json:"exit_code,omitempty"`
}

// NewStepStartedMessage builds a VmMessage step_started notification.
func NewStepStartedMessage(id uint64) VmMessage {
	return VmMessage{Type: TypeStepStarted, ID: id}
}

// NewOutputMessage builds a VmMessage terminal output chunk.
func NewOutputMessage(id uint64, stream OutputStream, data string) VmMessage {
	return VmMessage{Type: TypeOutput, ID: id, Stream: stream, Data: data}
}

// NewStepCompletedMessage builds a VmMessage step_completed notification.
func NewStepCompletedMessage(id uint64, exitCode int32) VmMessage {
	return VmMessage{Type: TypeStepCompleted, ID: id, ExitCode: exitCode}
}

// MarshalJSON line-encodes m using the same field layout a shim speaking
// this protocol expects, skipping zero-valued fields that don't apply to m's
// Type so round-tripped output matches what was originally parsed.
func (m HostMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeExec:
		return json.Marshal(struct {
			Type    MessageType       `json:"type"`
			ID      uint64            `json:"id"`
			Command string            `json:"command"`
			Env     map[string]string `json:"env,omitempty"`
			Cwd     string            `json:"cwd,omitempty"`
		}{m.Type, m.ID, m.Command, m.Env, m.Cwd})
	case TypeCancel:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			ID   uint64      `json:"id"`
		}{m.Type, m.ID})
	case TypeRollbackNotify:
		return json.Marshal(struct {
			Type   MessageType `json:"type"`
			StepID uint64      `json:"step_id"`
		}{m.Type, m.StepID})
	default:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
		}{m.Type})
	}
}

// MarshalJSON line-encodes m, omitting fields that don't apply to m's Type.
func (m VmMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeStepStarted:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			ID   uint64      `json:"id"`
		}{m.Type, m.ID})
	case TypeOutput:
		return json.Marshal(struct {
			Type   MessageType  `json:"type"`
			ID     uint64       `json:"id"`
			Stream OutputStream `json:"stream"`
			Data   string       `json:"data"`
		}{m.Type, m.ID, m.Stream, m.Data})
	case TypeStepCompleted:
		return json.Marshal(struct {
			Type     MessageType `json:"type"`
			ID       uint64      `json:"id"`
			ExitCode int32       `json:"exit_code"`
		}{m.Type, m.ID, m.ExitCode})
	default:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
		}{m.Type})
	}
}
