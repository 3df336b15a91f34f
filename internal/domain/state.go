package domain

// NodeState is the graph-runtime state of a node, distinct from its
// execution status. Transitions are monotone: Unknown -> Taken ->
// (Executed | Skipped), never backwards.
type NodeState int

const (
	Unknown NodeState = iota
	Taken
	Executed
	Skipped
)

func (s NodeState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Taken:
		return "taken"
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	default:
		return "invalid"
	}
}

// IsTerminal reports whether s is one of the states next_ready/
// is_all_terminal treat as "done" for readiness purposes.
func (s NodeState) IsTerminal() bool {
	return s == Executed || s == Skipped
}

// EdgeState mirrors NodeState for edges: Unknown -> (Taken |
// Skipped | Executed).
type EdgeState int

const (
	EdgeUnknown EdgeState = iota
	EdgeTaken
	EdgeSkipped
	EdgeExecuted
)

func (s EdgeState) String() string {
	switch s {
	case EdgeUnknown:
		return "unknown"
	case EdgeTaken:
		return "taken"
	case EdgeSkipped:
		return "skipped"
	case EdgeExecuted:
		return "executed"
	default:
		return "invalid"
	}
}

// NodeStatus is the outcome of one action execution attempt,
// distinct from NodeState.
type NodeStatus int

const (
	Pending NodeStatus = iota
	Succeeded
	Failed
	Exception
	Stopped
	Paused
)

func (s NodeStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Exception:
		return "exception"
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	default:
		return "invalid"
	}
}
