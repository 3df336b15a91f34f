package action

import "github.com/mbflow/wfengine/internal/domain"

// StartAction is the workflow's single entry point; it does no work
// of its own and always succeeds with empty outputs.
type StartAction struct{}

func (a *StartAction) Kind() domain.ActionKind { return domain.ActionStart }

func (a *StartAction) Run(ctx RunContext, nid string) Outcome {
	return Succeeded(map[string]any{})
}

// EndAction is a workflow's sink marker; it does no work.
type EndAction struct{}

func (a *EndAction) Kind() domain.ActionKind { return domain.ActionEnd }

func (a *EndAction) Run(ctx RunContext, nid string) Outcome {
	return Succeeded(map[string]any{})
}
