package domain

import "encoding/json"

// ActionKind enumerates the built-in action discriminators a NodeModel's
// "uses" field may carry.
type ActionKind string

const (
	ActionStart       ActionKind = "start"
	ActionEnd         ActionKind = "end"
	ActionHTTPRequest ActionKind = "http_request"
	ActionCode        ActionKind = "code"
	ActionIfElse      ActionKind = "if_else"
	ActionAgent       ActionKind = "agent"
)

func (k ActionKind) IsValid() bool {
	switch k {
	case ActionStart, ActionEnd, ActionHTTPRequest, ActionCode, ActionIfElse, ActionAgent:
		return true
	default:
		return false
	}
}

// ErrorStrategy controls what happens to a node's graph state when its
// action outcome is Failed or Exception.
type ErrorStrategy string

const (
	// ErrorStrategyNone is the default: the first Error terminates the
	// workflow.
	ErrorStrategyNone ErrorStrategy = "none"

	// ErrorStrategyFailBranch routes the failed node's completion down
	// its "fail_branch" handle instead of terminating the workflow.
	ErrorStrategyFailBranch ErrorStrategy = "fail_branch"

	// ErrorStrategyDefaultValue substitutes the node's configured
	// fallback outputs and marks it Executed rather than Error.
	ErrorStrategyDefaultValue ErrorStrategy = "default_value"
)

func (s ErrorStrategy) IsValid() bool {
	switch s {
	case "", ErrorStrategyNone, ErrorStrategyFailBranch, ErrorStrategyDefaultValue:
		return true
	default:
		return false
	}
}

// Reserved source-handle names.
const (
	HandleSource     = "source"
	HandleTrue       = "true"
	HandleFalse      = "false"
	HandleFailBranch = "fail_branch"
)

// RetryConfig is the optional per-node retry policy from the workflow
// JSON.
type RetryConfig struct {
	Times    uint64 `json:"times"`
	Interval uint64 `json:"interval"` // milliseconds
}

// NodeModel is one node definition from the workflow JSON.
type NodeModel struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Desc           string          `json:"desc"`
	Uses           ActionKind      `json:"uses"`
	ErrorStrategy  ErrorStrategy   `json:"error_strategy,omitempty"`
	Retry          *RetryConfig    `json:"retry,omitempty"`
	TimeoutMS      *uint64         `json:"timeout,omitempty"`
	Action         json.RawMessage `json:"action"`
	DefaultOutputs map[string]any  `json:"default_outputs,omitempty"`
}

// EdgeModel is one edge definition from the workflow JSON.
type EdgeModel struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle"`
}

// WorkflowModel is the immutable, client-supplied workflow definition.
// Once parsed it is never mutated by the engine.
type WorkflowModel struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Desc  string            `json:"desc"`
	Env   map[string]string `json:"env"`
	Nodes []NodeModel       `json:"nodes"`
	Edges []EdgeModel       `json:"edges"`
}

// ParseWorkflowModel decodes and lightly normalizes a workflow JSON
// document. Deep structural validation (unknown ids, cycles, schema
// checks) happens in graph.Construct, not here; this only rejects
// malformed JSON and fills in the default "source" handle.
func ParseWorkflowModel(data []byte) (*WorkflowModel, error) {
	var m WorkflowModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, NewError(ErrValidation, "invalid workflow JSON", err)
	}
	for i := range m.Edges {
		if m.Edges[i].SourceHandle == "" {
			m.Edges[i].SourceHandle = HandleSource
		}
	}
	return &m, nil
}
