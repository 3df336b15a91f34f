package domain

import "time"

// WorkflowEventKind discriminates the WorkflowEvent payloads.
type WorkflowEventKind string

const (
	WorkflowStart     WorkflowEventKind = "start"
	WorkflowSucceeded WorkflowEventKind = "succeeded"
	WorkflowFailed    WorkflowEventKind = "failed"
	WorkflowAborted   WorkflowEventKind = "aborted"
	WorkflowPaused    WorkflowEventKind = "paused"
)

// WorkflowEvent is a workflow-level lifecycle event published on the
// Channel.
type WorkflowEvent struct {
	Kind    WorkflowEventKind
	NodeIDs []string          // Start
	Error   string            // Failed
	Reason  string            // Aborted, Paused
	Outputs map[string]*Vars  // Aborted, keyed by node id
	Vars    *Vars             // Paused
}

// NodeEventKind discriminates the NodeEvent payloads.
type NodeEventKind string

const (
	NodeRunning   NodeEventKind = "running"
	NodeSucceeded NodeEventKind = "succeeded"
	NodeStopped   NodeEventKind = "stopped"
	NodePaused    NodeEventKind = "paused"
	NodeSkipped   NodeEventKind = "skipped"
	NodeRetry     NodeEventKind = "retry"
	NodeError     NodeEventKind = "error"
)

// NodeEvent is a per-node lifecycle event, carried alongside the node id
// through the dispatcher's completion channel and republished on the
// Channel.
type NodeEvent struct {
	Kind      NodeEventKind
	Timestamp time.Time // Running, Succeeded, Stopped, Paused

	// Error carries the reason for NodeError, tagged with whether it
	// originated from an action Failed outcome or an Exception.
	Error          string
	ErrorIsFailure bool
}

func NewRunningEvent(ts time.Time) NodeEvent { return NodeEvent{Kind: NodeRunning, Timestamp: ts} }

func NewSucceededEvent(ts time.Time) NodeEvent {
	return NodeEvent{Kind: NodeSucceeded, Timestamp: ts}
}

func NewStoppedEvent(ts time.Time) NodeEvent { return NodeEvent{Kind: NodeStopped, Timestamp: ts} }

func NewPausedEvent(ts time.Time) NodeEvent { return NodeEvent{Kind: NodePaused, Timestamp: ts} }

func NewSkippedEvent() NodeEvent { return NodeEvent{Kind: NodeSkipped} }

func NewRetryEvent() NodeEvent { return NodeEvent{Kind: NodeRetry} }

func NewErrorEvent(reason string, isFailure bool) NodeEvent {
	return NodeEvent{Kind: NodeError, Error: reason, ErrorIsFailure: isFailure}
}
