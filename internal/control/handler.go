package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/sandboxfs/codeundo/internal/undo"
)

// StepManager abstracts the undo engine's step lifecycle so the handler can
// be tested against a mock rather than a real on-disk engine.
type StepManager interface {
	OpenStep(id undo.StepID) error
	CloseStep(id undo.StepID) ([]undo.StepID, error)
	CurrentStep() (undo.StepID, bool)
}

// QuiescenceConfig configures how long the handler waits after
// step_completed before closing the undo step, and how long an ambient step
// tolerates inactivity before auto-closing.
type QuiescenceConfig struct {
	// IdleTimeout: after step_completed, wait this long with no filesystem
	// activity before closing the step.
	IdleTimeout time.Duration
	// MaxTimeout bounds how long we wait for in-flight operations to drain
	// after step_completed, preventing an indefinite hang.
	MaxTimeout time.Duration
	// AmbientInactivityTimeout: an ambient step auto-closes after this long
	// with no new writes.
	AmbientInactivityTimeout time.Duration
}

// DefaultQuiescenceConfig returns the reference timings: 100ms idle, 2s max
// drain wait, 5s ambient inactivity.
func DefaultQuiescenceConfig() QuiescenceConfig {
	return QuiescenceConfig{
		IdleTimeout:              100 * time.Millisecond,
		MaxTimeout:               2 * time.Second,
		AmbientInactivityTimeout: 5 * time.Second,
	}
}

// HandlerEventKind discriminates the payload of a HandlerEvent.
type HandlerEventKind string

const (
	HandlerStepStarted      HandlerEventKind = "step_started"
	HandlerOutput           HandlerEventKind = "output"
	HandlerStepCompleted    HandlerEventKind = "step_completed"
	HandlerAmbientOpened    HandlerEventKind = "ambient_step_opened"
	HandlerAmbientClosed    HandlerEventKind = "ambient_step_closed"
	HandlerProtocolError    HandlerEventKind = "protocol_error"
)

// HandlerEvent is emitted by ControlChannelHandler for the orchestration
// layer to consume.
type HandlerEvent struct {
	Kind HandlerEventKind

	StepID       undo.StepID
	Command      string
	Stream       OutputStream
	Data         string
	ExitCode     int32
	Cancelled    bool
	EvictedSteps []undo.StepID

	Error string
}

type handlerState struct {
	protocol          *ControlChannelState
	nextAmbientID     undo.StepID
	activeCommandStep *undo.StepID
	inQuiescence      bool
	ambientStepID     *undo.StepID
}

// ControlChannelHandler integrates the control channel protocol state
// machine with the undo engine's step lifecycle: it processes VM messages,
// opens and closes undo steps at the right times, implements the
// quiescence window after step_completed, and manages ambient steps for
// writes that happen outside any command step.
type ControlChannelHandler struct {
	stepManager StepManager
	inFlight    *InFlightTracker
	config      QuiescenceConfig

	mu    sync.Mutex
	state handlerState

	events         chan HandlerEvent
	ambientResetCh chan struct{}
}

// NewControlChannelHandler returns a handler and the channel its events are
// delivered on. The handler never closes the channel.
func NewControlChannelHandler(stepManager StepManager, inFlight *InFlightTracker, config QuiescenceConfig) (*ControlChannelHandler, <-chan HandlerEvent) {
	events := make(chan HandlerEvent, 64)
	h := &ControlChannelHandler{
		stepManager: stepManager,
		inFlight:    inFlight,
		config:      config,
		state: handlerState{
			protocol:      NewControlChannelState(),
			nextAmbientID: -1,
		},
		events:         events,
		ambientResetCh: make(chan struct{}, 1),
	}
	return h, events
}

// InFlightTracker returns the tracker counting this handler's in-flight
// filesystem operations, so the same instance can be shared with whatever
// filesystem adapter sits in front of the same session.
func (h *ControlChannelHandler) InFlightTracker() *InFlightTracker {
	return h.inFlight
}

// SendExec registers a command about to be sent to the VM, closing any open
// ambient step first, and returns the HostMessage for the caller to
// serialize onto the transport.
func (h *ControlChannelHandler) SendExec(id uint64, command string, env map[string]string, cwd string) HostMessage {
	h.closeAmbientStepIfOpen()

	h.mu.Lock()
	h.state.protocol.CommandSent(id, command)
	h.mu.Unlock()

	return NewExecMessage(id, command, env, cwd)
}

// HandleVmMessage advances the protocol state machine for a VM message and
// performs the corresponding step lifecycle action.
func (h *ControlChannelHandler) HandleVmMessage(msg VmMessage) {
	h.mu.Lock()
	event := h.state.protocol.ProcessVmMessage(msg)
	h.mu.Unlock()

	switch event.Kind {
	case EventStepStarted:
		stepID := undo.StepID(event.ID)
		h.closeAmbientStepIfOpen()

		if err := h.stepManager.OpenStep(stepID); err != nil {
			h.emit(HandlerEvent{Kind: HandlerProtocolError, Error: fmt.Sprintf("failed to open step %d: %v", stepID, err)})
			return
		}

		h.mu.Lock()
		h.state.activeCommandStep = &stepID
		h.mu.Unlock()

		h.emit(HandlerEvent{Kind: HandlerStepStarted, StepID: stepID, Command: event.Command})

	case EventOutput:
		h.emit(HandlerEvent{Kind: HandlerOutput, StepID: undo.StepID(event.ID), Stream: event.Stream, Data: event.Data})

	case EventStepCompleted:
		stepID := undo.StepID(event.ID)

		h.mu.Lock()
		h.state.activeCommandStep = nil
		h.state.inQuiescence = true
		h.mu.Unlock()

		h.spawnQuiescenceTask(stepID, event.ExitCode, event.Cancelled)

	case EventProtocolError:
		h.emit(HandlerEvent{Kind: HandlerProtocolError, Error: event.Error})
	}
}

// NotifyFsWrite tells the handler a filesystem write occurred. If no
// command step or quiescence window is active, this opens or extends an
// ambient step.
func (h *ControlChannelHandler) NotifyFsWrite() {
	h.mu.Lock()
	noCommandOrQuiescence := h.state.activeCommandStep == nil && !h.state.inQuiescence
	hasAmbient := h.state.ambientStepID != nil
	h.mu.Unlock()

	if !noCommandOrQuiescence {
		return
	}
	if hasAmbient {
		select {
		case h.ambientResetCh <- struct{}{}:
		default:
		}
		return
	}
	h.openAmbientStep()
}

// Cancel marks a pending or active command cancelled.
func (h *ControlChannelHandler) Cancel(id uint64) {
	h.mu.Lock()
	event, err := h.state.protocol.CancelCommand(id)
	h.mu.Unlock()

	if err != nil {
		h.emit(HandlerEvent{Kind: HandlerProtocolError, Error: err.Error()})
		return
	}

	switch event.Kind {
	case EventStepCompleted:
		h.emit(HandlerEvent{Kind: HandlerStepCompleted, StepID: undo.StepID(event.ID), ExitCode: event.ExitCode, Cancelled: event.Cancelled})
	case EventProtocolError:
		h.emit(HandlerEvent{Kind: HandlerProtocolError, Error: event.Error})
	}
}

// InQuiescence reports whether the handler is currently in a quiescence
// window.
func (h *ControlChannelHandler) InQuiescence() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.inQuiescence
}

// AmbientStepID returns the currently open ambient step, if any.
func (h *ControlChannelHandler) AmbientStepID() (undo.StepID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.ambientStepID == nil {
		return 0, false
	}
	return *h.state.ambientStepID, true
}

func (h *ControlChannelHandler) spawnQuiescenceTask(stepID undo.StepID, exitCode int32, cancelled bool) {
	go func() {
		maxDeadline := time.Now().Add(h.config.MaxTimeout)

		for {
			remaining := time.Until(maxDeadline)
			if remaining <= 0 {
				break
			}

			if !h.inFlight.WaitForDrain(remaining) {
				break
			}

			remaining = time.Until(maxDeadline)
			if remaining <= 0 {
				break
			}
			idleWait := remaining
			if h.config.IdleTimeout < idleWait {
				idleWait = h.config.IdleTimeout
			}
			time.Sleep(idleWait)

			if h.inFlight.Count() == 0 {
				break
			}
		}

		evicted, _ := h.stepManager.CloseStep(stepID)

		h.mu.Lock()
		h.state.inQuiescence = false
		h.mu.Unlock()

		h.emit(HandlerEvent{Kind: HandlerStepCompleted, StepID: stepID, ExitCode: exitCode, Cancelled: cancelled, EvictedSteps: evicted})
	}()
}

func (h *ControlChannelHandler) openAmbientStep() {
	h.mu.Lock()
	ambientID := h.state.nextAmbientID
	h.state.nextAmbientID--
	h.state.ambientStepID = &ambientID
	h.mu.Unlock()

	if err := h.stepManager.OpenStep(ambientID); err != nil {
		h.emit(HandlerEvent{Kind: HandlerProtocolError, Error: fmt.Sprintf("failed to open ambient step %d: %v", ambientID, err)})
		h.mu.Lock()
		h.state.ambientStepID = nil
		h.mu.Unlock()
		return
	}

	h.emit(HandlerEvent{Kind: HandlerAmbientOpened, StepID: ambientID})

	h.spawnAmbientTimeoutTask(ambientID)
}

func (h *ControlChannelHandler) spawnAmbientTimeoutTask(ambientID undo.StepID) {
	go func() {
		timer := time.NewTimer(h.config.AmbientInactivityTimeout)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				h.mu.Lock()
				if h.state.ambientStepID == nil || *h.state.ambientStepID != ambientID {
					h.mu.Unlock()
					return
				}
				h.state.ambientStepID = nil
				h.mu.Unlock()

				evicted, _ := h.stepManager.CloseStep(ambientID)
				h.emit(HandlerEvent{Kind: HandlerAmbientClosed, StepID: ambientID, EvictedSteps: evicted})
				return

			case <-h.ambientResetCh:
				h.mu.Lock()
				stillActive := h.state.ambientStepID != nil && *h.state.ambientStepID == ambientID
				h.mu.Unlock()
				if !stillActive {
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(h.config.AmbientInactivityTimeout)
			}
		}
	}()
}

func (h *ControlChannelHandler) closeAmbientStepIfOpen() {
	h.mu.Lock()
	ambientID := h.state.ambientStepID
	h.state.ambientStepID = nil
	h.mu.Unlock()

	if ambientID == nil {
		return
	}

	select {
	case h.ambientResetCh <- struct{}{}:
	default:
	}

	evicted, _ := h.stepManager.CloseStep(*ambientID)
	h.emit(HandlerEvent{Kind: HandlerAmbientClosed, StepID: *ambientID, EvictedSteps: evicted})
}

func (h *ControlChannelHandler) emit(event HandlerEvent) {
	select {
	case h.events <- event:
	default:
	}
}
