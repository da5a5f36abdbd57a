package control

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxfs/codeundo/internal/undo"
)

type mockStepManager struct {
	mu      sync.Mutex
	opened  []undo.StepID
	closed  []undo.StepID
	current *undo.StepID
	onOpen  func(id undo.StepID) error
	onClose func(id undo.StepID) ([]undo.StepID, error)
}

func (m *mockStepManager) OpenStep(id undo.StepID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, id)
	m.current = &id
	if m.onOpen != nil {
		return m.onOpen(id)
	}
	return nil
}

func (m *mockStepManager) CloseStep(id undo.StepID) ([]undo.StepID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, id)
	m.current = nil
	if m.onClose != nil {
		return m.onClose(id)
	}
	return nil, nil
}

func (m *mockStepManager) CurrentStep() (undo.StepID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0, false
	}
	return *m.current, true
}

func (m *mockStepManager) openedSteps() []undo.StepID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]undo.StepID, len(m.opened))
	copy(out, m.opened)
	return out
}

func (m *mockStepManager) closedSteps() []undo.StepID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]undo.StepID, len(m.closed))
	copy(out, m.closed)
	return out
}

func fastQuiescenceConfig() QuiescenceConfig {
	return QuiescenceConfig{
		IdleTimeout:              5 * time.Millisecond,
		MaxTimeout:               200 * time.Millisecond,
		AmbientInactivityTimeout: 30 * time.Millisecond,
	}
}

func drainEvent(t *testing.T, events <-chan HandlerEvent, timeout time.Duration) HandlerEvent {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for handler event")
		return HandlerEvent{}
	}
}

func TestHandlerStepStartedOpensUndoStep(t *testing.T) {
	mgr := &mockStepManager{}
	h, events := NewControlChannelHandler(mgr, NewInFlightTracker(), fastQuiescenceConfig())

	h.SendExec(1, "ls", nil, "")
	h.HandleVmMessage(NewStepStartedMessage(1))

	event := drainEvent(t, events, time.Second)
	assert.Equal(t, HandlerStepStarted, event.Kind)
	assert.Equal(t, undo.StepID(1), event.StepID)
	assert.Equal(t, []undo.StepID{1}, mgr.openedSteps())
}

func TestHandlerStepCompletedClosesStepAfterQuiescence(t *testing.T) {
	mgr := &mockStepManager{}
	h, events := NewControlChannelHandler(mgr, NewInFlightTracker(), fastQuiescenceConfig())

	h.SendExec(1, "ls", nil, "")
	h.HandleVmMessage(NewStepStartedMessage(1))
	drainEvent(t, events, time.Second)

	h.HandleVmMessage(NewStepCompletedMessage(1, 0))

	event := drainEvent(t, events, time.Second)
	assert.Equal(t, HandlerStepCompleted, event.Kind)
	assert.Equal(t, undo.StepID(1), event.StepID)
	assert.Equal(t, []undo.StepID{1}, mgr.closedSteps())
}

func TestHandlerOutputForwardsEvent(t *testing.T) {
	mgr := &mockStepManager{}
	h, events := NewControlChannelHandler(mgr, NewInFlightTracker(), fastQuiescenceConfig())

	h.SendExec(1, "echo hi", nil, "")
	h.HandleVmMessage(NewStepStartedMessage(1))
	drainEvent(t, events, time.Second)

	h.HandleVmMessage(NewOutputMessage(1, StreamStdout, "hi\n"))
	event := drainEvent(t, events, time.Second)
	assert.Equal(t, HandlerOutput, event.Kind)
	assert.Equal(t, "hi\n", event.Data)
}

func TestHandlerOpensAmbientStepOnFsWrite(t *testing.T) {
	mgr := &mockStepManager{}
	h, events := NewControlChannelHandler(mgr, NewInFlightTracker(), fastQuiescenceConfig())

	h.NotifyFsWrite()

	event := drainEvent(t, events, time.Second)
	assert.Equal(t, HandlerAmbientOpened, event.Kind)
	assert.Equal(t, undo.StepID(-1), event.StepID)

	id, ok := h.AmbientStepID()
	require.True(t, ok)
	assert.Equal(t, undo.StepID(-1), id)
}

func TestHandlerAmbientStepAutoClosesAfterInactivity(t *testing.T) {
	mgr := &mockStepManager{}
	h, events := NewControlChannelHandler(mgr, NewInFlightTracker(), fastQuiescenceConfig())

	h.NotifyFsWrite()
	drainEvent(t, events, time.Second)

	event := drainEvent(t, events, time.Second)
	assert.Equal(t, HandlerAmbientClosed, event.Kind)

	_, ok := h.AmbientStepID()
	assert.False(t, ok)
}

func TestHandlerExecClosesOpenAmbientStepFirst(t *testing.T) {
	mgr := &mockStepManager{}
	h, events := NewControlChannelHandler(mgr, NewInFlightTracker(), fastQuiescenceConfig())

	h.NotifyFsWrite()
	drainEvent(t, events, time.Second)

	h.SendExec(1, "ls", nil, "")
	event := drainEvent(t, events, time.Second)
	assert.Equal(t, HandlerAmbientClosed, event.Kind)
	assert.Equal(t, undo.StepID(-1), event.StepID)
}

func TestHandlerCancelPendingCommand(t *testing.T) {
	mgr := &mockStepManager{}
	h, events := NewControlChannelHandler(mgr, NewInFlightTracker(), fastQuiescenceConfig())

	h.SendExec(1, "sleep 100", nil, "")
	h.Cancel(1)

	event := drainEvent(t, events, time.Second)
	assert.Equal(t, HandlerStepCompleted, event.Kind)
	assert.True(t, event.Cancelled)
}
