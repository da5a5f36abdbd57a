package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxfs/codeundo/internal/undo"
)

func TestSafeguardBridgeRoundTripsAllowDecision(t *testing.T) {
	bridge := NewSafeguardBridge()
	event := undo.SafeguardEvent{Kind: undo.SafeguardDeleteThreshold, Path: "a.txt"}

	decisionCh := make(chan undo.SafeguardDecision, 1)
	go func() {
		decisionCh <- bridge.OnSafeguardTriggered(event)
	}()

	select {
	case pending := <-bridge.Pending():
		assert.Equal(t, event, pending.Event)
		pending.Responder <- undo.SafeguardAllow
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending safeguard")
	}

	select {
	case decision := <-decisionCh:
		assert.Equal(t, undo.SafeguardAllow, decision)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestSafeguardBridgeDefaultsToDenyWhenResponderClosedWithoutDecision(t *testing.T) {
	bridge := NewSafeguardBridge()
	event := undo.SafeguardEvent{Kind: undo.SafeguardOverwriteLargeFile, Path: "b.txt"}

	decisionCh := make(chan undo.SafeguardDecision, 1)
	go func() {
		decisionCh <- bridge.OnSafeguardTriggered(event)
	}()

	pending := <-bridge.Pending()
	close(pending.Responder)

	select {
	case decision := <-decisionCh:
		assert.Equal(t, undo.SafeguardDeny, decision)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestSafeguardBridgeImplementsHandlerInterface(t *testing.T) {
	var _ undo.SafeguardHandler = NewSafeguardBridge()
	require.NotNil(t, NewSafeguardBridge())
}
