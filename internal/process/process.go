// Package process implements the public per-execution handle: a
// thin wrapper around one Dispatcher plus its command queue, exposing
// id/wid/start/abort/outputs/is_complete and the self-stopping
// subscription to its own terminal workflow event.
package process

import (
	"sync/atomic"

	"github.com/mbflow/wfengine/internal/channel"
	"github.com/mbflow/wfengine/internal/dispatcher"
	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/wfcontext"
)

// Process is one live execution of a workflow.
type Process struct {
	pid string
	wid string

	dispatcher *dispatcher.Dispatcher
	wctx       *wfcontext.Context
	bus        *channel.Channel

	complete atomic.Bool
}

// New wires a Process around an already-constructed Dispatcher and
// Context. Engine.BuildWorkflowProcess is the usual caller.
func New(pid, wid string, d *dispatcher.Dispatcher, wctx *wfcontext.Context, bus *channel.Channel) *Process {
	return &Process{pid: pid, wid: wid, dispatcher: d, wctx: wctx, bus: bus}
}

// ID returns the process id.
func (p *Process) ID() string { return p.pid }

// WID returns the workflow definition id this process was built from.
func (p *Process) WID() string { return p.wid }

// Start registers the terminal-event subscription, starts the
// dispatcher's loop, and submits the Start command.
func (p *Process) Start() {
	p.bus.OnEvent(p.pid, "", false, func(msg channel.EventMessage) {
		evt, ok := msg.Payload.(domain.WorkflowEvent)
		if !ok {
			return
		}
		switch evt.Kind {
		case domain.WorkflowSucceeded, domain.WorkflowFailed, domain.WorkflowAborted:
			p.complete.Store(true)
			p.dispatcher.Stop()
		}
	})
	p.dispatcher.Run()
	p.dispatcher.SendCommand(dispatcher.CmdStart)
}

// Abort issues the Abort command.
func (p *Process) Abort() {
	p.dispatcher.SendCommand(dispatcher.CmdAbort)
}

// GetOutputs returns a snapshot of every recorded node output.
func (p *Process) GetOutputs() map[string]*domain.Vars {
	return p.wctx.AllOutputs()
}

// IsComplete reports whether a terminal workflow event has been
// observed. Flips to true only after that event is published.
func (p *Process) IsComplete() bool {
	return p.complete.Load()
}

// Stopped returns a channel that closes once the dispatcher's main
// loop has exited.
func (p *Process) Stopped() <-chan struct{} {
	return p.dispatcher.Stopped()
}
