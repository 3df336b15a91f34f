// Package action implements the polymorphic Action contract:
// every action variant has a New* constructor that validates its
// config, plus Kind and Run; there is no separate schema method. The
// core only ever calls Kind and Run (plus, for IfElse, inspects its
// "selected" output). A closed ActionKind enum is paired with one
// struct per kind, each validating its own config at construction.
package action

import (
	"encoding/json"

	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/template"
)

// Outcome is the result of one action run attempt.
type Outcome struct {
	Status    domain.NodeStatus
	Outputs   *domain.Vars
	Error     string // set when Status == Failed
	Exception string // set when Status == Exception
}

// Succeeded builds a Succeeded outcome from a plain output map.
func Succeeded(outputs map[string]any) Outcome {
	return Outcome{Status: domain.Succeeded, Outputs: domain.VarsFrom(outputs)}
}

// Failed builds a Failed outcome (retryable).
func Failed(reason string) Outcome {
	return Outcome{Status: domain.Failed, Outputs: domain.NewVars(), Error: reason}
}

// Exception builds an Exception outcome (not retried).
func Exception(reason string) Outcome {
	return Outcome{Status: domain.Exception, Outputs: domain.NewVars(), Exception: reason}
}

// RunContext is the data source + log sink an action needs while
// running; *wfcontext.Context satisfies it. Kept narrow to avoid an
// action -> wfcontext import cycle, since wfcontext never needs to
// know about actions.
type RunContext interface {
	template.Store
	PID() string
	EmitLog(nid, content string)
	WaitShutdown() <-chan struct{}
}

// Action is the capability every node's "uses" discriminator resolves
// to.
type Action interface {
	Kind() domain.ActionKind
	Run(ctx RunContext, nid string) Outcome
}

// Factory builds one Action instance from a node's opaque "action" JSON,
// validating it against that kind's schema. Built once per node when
// the Dispatcher is constructed; the same instance is reused across
// retries.
type Factory func(raw json.RawMessage) (Action, error)

// Registry maps an ActionKind to its Factory. Graph construction
// rejects unknown kinds, and dispatcher.New builds every node's action
// through the registry, so a malformed action config is rejected as a
// ValidationError when the process is built, never discovered mid-run.
type Registry struct {
	factories map[domain.ActionKind]Factory
}

// NewRegistry builds the registry of built-in action kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[domain.ActionKind]Factory)}
	r.Register(domain.ActionStart, func(json.RawMessage) (Action, error) { return &StartAction{}, nil })
	r.Register(domain.ActionEnd, func(json.RawMessage) (Action, error) { return &EndAction{}, nil })
	r.Register(domain.ActionHTTPRequest, NewHTTPRequestAction)
	r.Register(domain.ActionCode, NewCodeAction)
	r.Register(domain.ActionIfElse, NewIfElseAction)
	r.Register(domain.ActionAgent, NewAgentAction)
	return r
}

// Register adds or overrides a factory for a kind. Exposed so embedders
// can plug in their own action kinds.
func (r *Registry) Register(kind domain.ActionKind, f Factory) {
	r.factories[kind] = f
}

// Build validates raw against kind's schema and returns a ready Action
// instance, or a domain.ErrValidation error.
func (r *Registry) Build(kind domain.ActionKind, raw json.RawMessage) (Action, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, domain.NewErrorf(domain.ErrValidation, nil, "unknown action kind %q", kind)
	}
	act, err := f(raw)
	if err != nil {
		return nil, domain.NewErrorf(domain.ErrValidation, err, "invalid action config for kind %q", kind)
	}
	return act, nil
}
