package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"

	"github.com/sandboxfs/codeundo/internal/control"
	"github.com/sandboxfs/codeundo/internal/logger"
	"github.com/sandboxfs/codeundo/internal/orchestrator"
	"github.com/sandboxfs/codeundo/internal/undo"
)

var serveCmd = &cobra.Command{
	Use:   "serve <mount-point>",
	Short: "Mount the undo filesystem and serve its control channel over stdio.",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

// safeguardDecisionLine is the stdio shape a controller replies with when a
// safeguard event it was shown over stdout requires a decision.
type safeguardDecisionLine struct {
	SafeguardID undo.SafeguardID `json:"safeguard_id"`
	Decision    string           `json:"decision"`
}

// pendingSafeguards tracks safeguard responders awaiting a decision line on
// stdin, keyed by the ID printed alongside the prompt on stdout.
type pendingSafeguards struct {
	mu         sync.Mutex
	responders map[undo.SafeguardID]chan undo.SafeguardDecision
}

func (p *pendingSafeguards) add(id undo.SafeguardID, responder chan undo.SafeguardDecision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responders[id] = responder
}

func (p *pendingSafeguards) resolve(id undo.SafeguardID, decision undo.SafeguardDecision) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	responder, ok := p.responders[id]
	if !ok {
		return false
	}
	delete(p.responders, id)
	responder <- decision
	return true
}

func runServe(cmd *cobra.Command, args []string) error {
	mountPoint := args[0]

	c, err := resolvedConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logger.Init(c.Logging); err != nil {
		return fmt.Errorf("logger.Init: %w", err)
	}

	session, err := orchestrator.NewSession(&c)
	if err != nil {
		return fmt.Errorf("orchestrator.NewSession: %w", err)
	}
	if err := session.Mount(mountPoint); err != nil {
		return fmt.Errorf("session.Mount: %w", err)
	}

	registerSIGINTHandler(mountPoint)

	pending := &pendingSafeguards{responders: map[undo.SafeguardID]chan undo.SafeguardDecision{}}
	go relayHandlerEvents(session.Events)
	go relaySafeguardPrompts(session.Bridge, pending)
	go readControlStdin(session.Handler, pending)

	return session.Wait(cmd.Context())
}

func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		<-signalChan
		logger.Infof("received SIGINT, unmounting %s", mountPoint)
		if err := fuse.Unmount(mountPoint); err != nil {
			logger.Errorf("unmount failed: %v", err)
		}
	}()
}

// readControlStdin reads one JSON-Lines message per line from stdin. Each
// line is either a VmMessage (a step boundary or output chunk reported by
// whatever executed the command being tracked) or a safeguard decision
// reply keyed by the safeguard ID printed to stdout when the prompt fired.
func readControlStdin(handler *control.ControlChannelHandler, pending *pendingSafeguards) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if msg, err := control.ParseVMMessage(line); err == nil {
			handler.HandleVmMessage(msg)
			continue
		}

		var decision safeguardDecisionLine
		if err := json.Unmarshal([]byte(line), &decision); err != nil {
			logger.Warnf("unrecognized control line: %s", line)
			continue
		}
		result := undo.SafeguardDeny
		if decision.Decision == "allow" {
			result = undo.SafeguardAllow
		}
		if !pending.resolve(decision.SafeguardID, result) {
			logger.Warnf("safeguard %d has no pending responder", decision.SafeguardID)
		}
	}
}

func relaySafeguardPrompts(bridge *orchestrator.SafeguardBridge, pending *pendingSafeguards) {
	for p := range bridge.Pending() {
		pending.add(p.Event.SafeguardID, p.Responder)
		encoded, err := json.Marshal(p.Event)
		if err != nil {
			logger.Errorf("marshal safeguard event: %v", err)
			continue
		}
		fmt.Println(string(encoded))
	}
}

func relayHandlerEvents(events <-chan control.HandlerEvent) {
	for event := range events {
		encoded, err := json.Marshal(event)
		if err != nil {
			logger.Errorf("marshal handler event: %v", err)
			continue
		}
		fmt.Println(string(encoded))
	}
}
