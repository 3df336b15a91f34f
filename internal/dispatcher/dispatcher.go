// Package dispatcher implements the scheduler for one workflow
// execution: a single-threaded cooperative main loop that
// consumes control commands and node-completion events, spawns worker
// tasks per node attempt, and drives the graph from root to terminal.
//
// Concurrent node executions are bounded by a semaphore channel, the
// same way a wave-based executor would bound them, but there is no
// barrier between waves here: this is an event-driven, per-node-
// readiness model where a successor spawns the instant its own
// predecessors are terminal.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbflow/wfengine/internal/action"
	"github.com/mbflow/wfengine/internal/channel"
	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/graph"
	"github.com/mbflow/wfengine/internal/retry"
	"github.com/mbflow/wfengine/internal/wfcontext"
)

// DefaultPoolSize is the default size of the shared, multi-threaded
// worker pool (configurable per Dispatcher).
const DefaultPoolSize = 16

// DefaultCompletionCapacity is the default bound on the point-to-point
// completion channel.
const DefaultCompletionCapacity = 1024

// Command is a control command accepted from a Process.
type Command int

const (
	CmdStart Command = iota
	CmdAbort
)

var backgroundCtx = context.Background()

type completion struct {
	nid   string
	event domain.NodeEvent
}

// Dispatcher owns one workflow execution.
type Dispatcher struct {
	pid     string
	wf      *graph.Workflow
	wctx    *wfcontext.Context
	bus     *channel.Channel
	actions map[string]action.Action

	pool chan struct{} // semaphore bounding concurrent node workers

	commands    chan Command
	completions chan completion

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	doneCh       chan struct{}

	log zerolog.Logger
}

// New builds a Dispatcher, instantiating one Action per node from the
// registry up front.
func New(pid string, wf *graph.Workflow, wctx *wfcontext.Context, registry *action.Registry, bus *channel.Channel, poolSize int, logger zerolog.Logger) (*Dispatcher, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	actions := make(map[string]action.Action, len(wf.AllNodeIDs()))
	for _, nid := range wf.AllNodeIDs() {
		node, _ := wf.Node(nid)
		act, err := registry.Build(node.Uses, node.Action)
		if err != nil {
			return nil, err
		}
		actions[nid] = act
	}
	return &Dispatcher{
		pid:         pid,
		wf:          wf,
		wctx:        wctx,
		bus:         bus,
		actions:     actions,
		pool:        make(chan struct{}, poolSize),
		commands:    make(chan Command, 8),
		completions: make(chan completion, DefaultCompletionCapacity),
		shutdownCh:  make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         logger.With().Str("pid", pid).Logger(),
	}, nil
}

// Run starts the main loop on a new goroutine. Call once.
func (d *Dispatcher) Run() {
	go d.loop()
}

// SendCommand enqueues a control command, blocking only as long as the
// small command buffer is full.
func (d *Dispatcher) SendCommand(cmd Command) {
	select {
	case d.commands <- cmd:
	case <-d.shutdownCh:
	}
}

// Stopped returns a channel that closes once the main loop has
// returned.
func (d *Dispatcher) Stopped() <-chan struct{} {
	return d.doneCh
}

// Stop raises the dispatcher's shutdown signal and marks the context
// done, unblocking any in-flight worker racing wait_shutdown.
// Idempotent; called both internally (on Abort/Error) and externally
// by Process once it observes a terminal workflow event.
func (d *Dispatcher) Stop() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownCh)
		d.wctx.Done()
	})
}

func (d *Dispatcher) loop() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.shutdownCh:
			return
		case comp := <-d.completions:
			d.handleCompletion(comp)
		case cmd := <-d.commands:
			d.handleCommand(cmd)
		}
	}
}

func (d *Dispatcher) handleCommand(cmd Command) {
	switch cmd {
	case CmdStart:
		root := d.wf.Root()
		d.bus.PublishEvent(d.pid, "", domain.WorkflowEvent{Kind: domain.WorkflowStart, NodeIDs: d.wf.AllNodeIDs()})
		d.spawn(root)
	case CmdAbort:
		d.bus.PublishEvent(d.pid, "", domain.WorkflowEvent{
			Kind:    domain.WorkflowAborted,
			Reason:  "Aborted by command",
			Outputs: d.wctx.AllOutputs(),
		})
		d.Stop()
	}
}

func (d *Dispatcher) handleCompletion(comp completion) {
	d.bus.PublishEvent(d.pid, comp.nid, comp.event)

	switch comp.event.Kind {
	case domain.NodeSucceeded:
		d.advance(comp.nid, d.selectHandle(comp.nid))
	case domain.NodeError:
		d.handleNodeError(comp.nid, comp.event)
	default:
		// Stopped / Paused / Retry / Skipped: republished above, frontier
		// does not advance.
	}
}

// handleNodeError applies the failed node's error_strategy. The
// default "none" strategy keeps the original behavior: the first Error
// terminates the whole workflow. "fail_branch" and "default_value"
// instead let the node reach its own terminal Executed state and let
// the graph keep advancing, exactly as if it had produced that outcome
// itself.
func (d *Dispatcher) handleNodeError(nid string, event domain.NodeEvent) {
	node, ok := d.wf.Node(nid)
	if !ok {
		d.bus.PublishEvent(d.pid, "", domain.WorkflowEvent{Kind: domain.WorkflowFailed, Error: event.Error})
		d.Stop()
		return
	}

	switch node.ErrorStrategy {
	case domain.ErrorStrategyFailBranch:
		d.advance(nid, domain.HandleFailBranch)
	case domain.ErrorStrategyDefaultValue:
		d.wctx.AddOutput(nid, domain.VarsFrom(node.DefaultOutputs))
		d.advance(nid, domain.HandleSource)
	default:
		d.bus.PublishEvent(d.pid, "", domain.WorkflowEvent{Kind: domain.WorkflowFailed, Error: event.Error})
		d.Stop()
	}
}

// selectHandle chooses the outgoing handle for a node that succeeded
// on its own terms (not via an error_strategy override).
func (d *Dispatcher) selectHandle(nid string) string {
	node, _ := d.wf.Node(nid)
	if node.Uses == domain.ActionIfElse {
		if outputs, ok := d.wctx.GetOutput(nid); ok {
			if selected, ok := outputs.Get("selected"); ok {
				if s, ok := selected.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return domain.HandleSource
}

// advance marks nid Executed, records the traversal of the selected
// handle's edges, skip-propagates every unselected branch, and spawns
// whatever becomes ready on the selected handle.
func (d *Dispatcher) advance(nid string, handle string) {
	d.wf.MarkExecuted(nid)

	for _, e := range d.wf.OutgoingEdges(nid) {
		if e.SourceHandle == handle {
			d.wf.MarkEdgeTaken(e.ID)
		}
	}

	for _, skipped := range d.wf.SkipUnselected(nid, handle) {
		d.bus.PublishEvent(d.pid, skipped.NodeID, domain.NewSkippedEvent())
	}

	ready := d.wf.NextReady(nid, handle)
	for _, succ := range ready {
		d.spawn(succ)
	}

	if len(ready) == 0 && d.wf.IsAllTerminal() {
		d.bus.PublishEvent(d.pid, "", domain.WorkflowEvent{Kind: domain.WorkflowSucceeded})
		d.wctx.Done()
	}
}

// spawn marks nid Taken and launches its worker task. MarkTaken
// happens immediately before the worker goroutine starts so a
// concurrent completion can never re-spawn it.
func (d *Dispatcher) spawn(nid string) {
	d.wf.MarkTaken(nid)
	go d.runWorker(nid)
}

// runWorker is the worker task for one node: a single goroutine
// covering the whole retry loop for that node.
func (d *Dispatcher) runWorker(nid string) {
	node, ok := d.wf.Node(nid)
	if !ok {
		d.sendCompletion(nid, domain.NewErrorEvent("Node not found", false))
		return
	}
	act, ok := d.actions[nid]
	if !ok {
		d.sendCompletion(nid, domain.NewErrorEvent("Node not found", false))
		return
	}

	d.pool <- struct{}{}
	defer func() { <-d.pool }()

	policy := retry.FromConfig(retryTimes(node), retryIntervalMS(node))

	startTime := time.Now()
	d.sendCompletion(nid, domain.NewRunningEvent(startTime))

	var retriesUsed uint64
	var outcome action.Outcome
	for {
		outcome = d.runAttempt(node, act, nid)
		if outcome.Status == domain.Failed && policy.HasRemaining(retriesUsed) {
			retriesUsed++
			d.sendCompletion(nid, domain.NewRetryEvent())
			if !d.wctx.Sleep(backgroundCtx, policy.Interval) {
				d.sendCompletion(nid, domain.NewStoppedEvent(time.Now()))
				return
			}
			continue
		}
		break
	}

	endTime := time.Now()
	switch outcome.Status {
	case domain.Succeeded:
		d.wctx.AddOutput(nid, outcome.Outputs)
		d.sendCompletion(nid, domain.NewSucceededEvent(endTime))
	case domain.Failed:
		d.sendCompletion(nid, domain.NewErrorEvent(outcome.Error, true))
	case domain.Exception:
		d.sendCompletion(nid, domain.NewErrorEvent(outcome.Exception, false))
	case domain.Paused:
		d.sendCompletion(nid, domain.NewPausedEvent(endTime))
	default: // Stopped
		d.sendCompletion(nid, domain.NewStoppedEvent(endTime))
	}
}

// runAttempt races one action run against the node's timeout (if any)
// and the context's shutdown signal.
func (d *Dispatcher) runAttempt(node domain.NodeModel, act action.Action, nid string) action.Outcome {
	resultCh := make(chan action.Outcome, 1)
	go func() { resultCh <- act.Run(d.wctx, nid) }()

	var timeoutCh <-chan time.Time
	if node.TimeoutMS != nil && *node.TimeoutMS > 0 {
		timer := time.NewTimer(time.Duration(*node.TimeoutMS) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case out := <-resultCh:
		return out
	case <-timeoutCh:
		return action.Failed("Timeout")
	case <-d.wctx.WaitShutdown():
		return action.Outcome{Status: domain.Stopped}
	}
}

// sendCompletion delivers a (nid, event) pair to the main loop. The
// completion channel is lossless under normal operation; the
// shutdown fallback exists only so a worker racing a just-stopped
// dispatcher does not block forever on a channel nothing drains.
func (d *Dispatcher) sendCompletion(nid string, event domain.NodeEvent) {
	select {
	case d.completions <- completion{nid: nid, event: event}:
	case <-d.shutdownCh:
	}
}

func retryTimes(n domain.NodeModel) *uint64 {
	if n.Retry == nil {
		return nil
	}
	return &n.Retry.Times
}

func retryIntervalMS(n domain.NodeModel) *uint64 {
	if n.Retry == nil {
		return nil
	}
	return &n.Retry.Interval
}
