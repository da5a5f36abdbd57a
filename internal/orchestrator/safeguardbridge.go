package orchestrator

import "github.com/sandboxfs/codeundo/internal/undo"

// PendingSafeguard pairs a triggered safeguard event with the channel its
// decision must arrive on.
type PendingSafeguard struct {
	Event     undo.SafeguardEvent
	Responder chan undo.SafeguardDecision
}

// SafeguardBridge implements undo.SafeguardHandler by handing the event off
// to whatever is consuming Pending() — typically the session's control-event
// loop, which surfaces it to the controlling client and waits for a
// confirmation command — and blocking the calling goroutine (the filesystem
// op goroutine that triggered the safeguard) until a decision arrives.
//
// Grounded on `sandbox/src/safeguard_bridge.rs`: the Rust version bridges a
// synchronous trait call on the filesystem thread to the async orchestrator
// via an unbounded mpsc channel plus a oneshot responder; here an unbuffered
// Go channel carries each pending event and a per-event responder channel
// of capacity 1 carries the decision back.
type SafeguardBridge struct {
	pending chan PendingSafeguard
}

// NewSafeguardBridge returns a bridge whose pending events can be drained
// from Pending().
func NewSafeguardBridge() *SafeguardBridge {
	return &SafeguardBridge{pending: make(chan PendingSafeguard)}
}

var _ undo.SafeguardHandler = (*SafeguardBridge)(nil)

// Pending returns the channel of safeguard events awaiting a decision.
func (b *SafeguardBridge) Pending() <-chan PendingSafeguard {
	return b.pending
}

// OnSafeguardTriggered implements undo.SafeguardHandler. It blocks the
// calling goroutine — the filesystem op that tripped the safeguard — until
// a decision is sent back on the responder channel. The session's event
// loop is expected to always be draining Pending() while a session is
// active; if the responder channel is closed without a decision (session
// torn down mid-confirmation) this defaults to Deny.
func (b *SafeguardBridge) OnSafeguardTriggered(event undo.SafeguardEvent) undo.SafeguardDecision {
	responder := make(chan undo.SafeguardDecision, 1)
	b.pending <- PendingSafeguard{Event: event, Responder: responder}

	decision, ok := <-responder
	if !ok {
		return undo.SafeguardDeny
	}
	return decision
}
