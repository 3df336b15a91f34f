package action

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/template"
)

// funcDefRe recognizes a minimal "func name(args) { body }" entry
// point. The sandbox does not interpret a general-purpose scripting
// language; it compiles the function body as a single
// expr-lang expression, which gives the same data-only, side-effect-free
// guarantees a deeper sandbox would, without the implementation weight.
var funcDefRe = regexp.MustCompile(`(?s)func\s+\w+\s*\([^)]*\)\s*\{(.*)\}\s*$`)

// CodeConfig is the "action" payload for uses=code. Inputs
// map named arguments to template selectors, resolved before the
// source runs.
type CodeConfig struct {
	Source string            `json:"source"`
	Inputs map[string]string `json:"inputs"`
}

// CodeAction runs a user-supplied expression against a named input
// dict derived from template-resolved selectors.
type CodeAction struct {
	cfg  CodeConfig
	body string
}

// NewCodeAction validates cfg and builds the action instance. The
// function-definition check happens in Run, not here, since the
// source is otherwise opaque until that node actually executes.
func NewCodeAction(raw json.RawMessage) (Action, error) {
	var cfg CodeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &CodeAction{cfg: cfg}, nil
}

func (a *CodeAction) Kind() domain.ActionKind { return domain.ActionCode }

func (a *CodeAction) Run(ctx RunContext, nid string) Outcome {
	m := funcDefRe.FindStringSubmatch(a.cfg.Source)
	if m == nil {
		return Exception("No function found")
	}
	body := strings.TrimSpace(m[1])

	inputs := make(map[string]any, len(a.cfg.Inputs))
	for name, selector := range a.cfg.Inputs {
		values, err := template.ResolveToValues(ctx, selector)
		if err != nil {
			return Exception(err.Error())
		}
		if len(values) == 1 {
			inputs[name] = values[0]
		} else {
			inputs[name] = values
		}
	}

	program, err := expr.Compile(body, expr.Env(inputs))
	if err != nil {
		return Exception("compile error: " + err.Error())
	}
	result, err := expr.Run(program, inputs)
	if err != nil {
		return Exception("runtime error: " + err.Error())
	}

	if out, ok := result.(map[string]any); ok {
		return Succeeded(out)
	}
	return Succeeded(map[string]any{"result": result})
}
