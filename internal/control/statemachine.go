package control

import "sync"

// PendingCommand is a command sent to the VM via exec but not yet reported
// as started.
type PendingCommand struct {
	ID      uint64
	Command string
}

// ActiveCommand is a command currently executing inside the VM, between
// step_started and step_completed.
type ActiveCommand struct {
	ID        uint64
	Command   string
	Cancelled bool
}

// ControlEventKind discriminates the payload of a ControlEvent.
type ControlEventKind string

const (
	EventStepStarted   ControlEventKind = "step_started"
	EventOutput        ControlEventKind = "output"
	EventStepCompleted ControlEventKind = "step_completed"
	EventProtocolError ControlEventKind = "protocol_error"
)

// ControlEvent is emitted by ControlChannelState for the caller to act on.
// A ProtocolError keeps the channel operational — it's a signal to log, not
// to tear anything down.
type ControlEvent struct {
	Kind ControlEventKind

	ID        uint64
	Command   string
	Stream    OutputStream
	Data      string
	ExitCode  int32
	Cancelled bool

	Error string
}

// ControlChannelState tracks the lifecycle of commands sent over the
// control channel: pending (sent, not yet started) and active (started,
// not yet completed). Protocol violations surface as a ProtocolError event
// rather than an error return, so the caller keeps processing subsequent
// messages.
type ControlChannelState struct {
	mu      sync.Mutex
	pending map[uint64]PendingCommand
	active  map[uint64]ActiveCommand
}

// NewControlChannelState returns an empty state machine.
func NewControlChannelState() *ControlChannelState {
	return &ControlChannelState{
		pending: map[uint64]PendingCommand{},
		active:  map[uint64]ActiveCommand{},
	}
}

// CommandSent registers a command dispatched via exec, so the state
// machine knows to expect a matching step_started.
func (s *ControlChannelState) CommandSent(id uint64, command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = PendingCommand{ID: id, Command: command}
}

// CancelCommand marks a command cancelled. A pending command is removed
// immediately and reported complete; an active command is flagged
// cancelled and still awaits its real step_completed from the VM.
func (s *ControlChannelState) CancelCommand(id uint64) (ControlEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		return ControlEvent{Kind: EventStepCompleted, ID: id, ExitCode: -1, Cancelled: true}, nil
	}

	if active, ok := s.active[id]; ok {
		active.Cancelled = true
		s.active[id] = active
		err := &CancelCommandAwaitingCompletionError{ID: id}
		return ControlEvent{Kind: EventProtocolError, Error: err.Error()}, nil
	}

	return ControlEvent{}, &CancelUnknownCommandError{ID: id}
}

// ProcessVmMessage advances the state machine for a message received from
// the VM and returns the resulting event.
func (s *ControlChannelState) ProcessVmMessage(msg VmMessage) ControlEvent {
	switch msg.Type {
	case TypeStepStarted:
		return s.handleStepStarted(msg.ID)
	case TypeOutput:
		return s.handleOutput(msg.ID, msg.Stream, msg.Data)
	case TypeStepCompleted:
		return s.handleStepCompleted(msg.ID, msg.ExitCode)
	default:
		return ControlEvent{Kind: EventProtocolError, Error: "unreachable: unvalidated message type " + string(msg.Type)}
	}
}

// PendingCount returns the number of commands sent but not yet started.
func (s *ControlChannelState) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ActiveCount returns the number of commands started but not yet completed.
func (s *ControlChannelState) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// GetActive returns the active command for id, if any.
func (s *ControlChannelState) GetActive(id uint64) (ActiveCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, ok := s.active[id]
	return active, ok
}

func (s *ControlChannelState) handleStepStarted(id uint64) ControlEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[id]; ok {
		return ControlEvent{Kind: EventProtocolError, Error: (&DuplicateStepStartedError{ID: id}).Error()}
	}

	pending, ok := s.pending[id]
	if !ok {
		return ControlEvent{Kind: EventProtocolError, Error: (&UnexpectedStepStartedError{ID: id}).Error()}
	}
	delete(s.pending, id)
	s.active[id] = ActiveCommand{ID: id, Command: pending.Command}
	return ControlEvent{Kind: EventStepStarted, ID: id, Command: pending.Command}
}

func (s *ControlChannelState) handleOutput(id uint64, stream OutputStream, data string) ControlEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[id]; !ok {
		return ControlEvent{Kind: EventProtocolError, Error: (&OutputForUnknownCommandError{ID: id}).Error()}
	}
	return ControlEvent{Kind: EventOutput, ID: id, Stream: stream, Data: data}
}

func (s *ControlChannelState) handleStepCompleted(id uint64, exitCode int32) ControlEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, ok := s.active[id]
	if !ok {
		return ControlEvent{Kind: EventProtocolError, Error: (&UnexpectedStepCompletedError{ID: id}).Error()}
	}
	delete(s.active, id)
	return ControlEvent{Kind: EventStepCompleted, ID: id, ExitCode: exitCode, Cancelled: active.Cancelled}
}
