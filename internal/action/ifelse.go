package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/template"
)

// Comparator enumerates the typed comparisons a Condition may apply.
type Comparator string

const (
	CmpEquals      Comparator = "eq"
	CmpNotEquals   Comparator = "ne"
	CmpGreaterThan Comparator = "gt"
	CmpGreaterEq   Comparator = "gte"
	CmpLessThan    Comparator = "lt"
	CmpLessEq      Comparator = "lte"
	CmpContains    Comparator = "contains"
	CmpExists      Comparator = "exists"
	CmpTruthy      Comparator = "truthy"
)

// Condition compares a template selector's resolved value against a
// literal using Comparator.
type Condition struct {
	Selector   string     `json:"selector"`
	Comparator Comparator `json:"comparator"`
	Value      any        `json:"value"`
}

// Logic joins a case's conditions.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Case is one branch of an IfElse action.
type Case struct {
	ID         string      `json:"id"`
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// IfElseConfig is the "action" payload for uses=if_else.
type IfElseConfig struct {
	Cases []Case `json:"cases"`
}

// IfElseAction evaluates an ordered list of cases and reports the id
// of the first matching case.
type IfElseAction struct {
	cfg IfElseConfig
}

// NewIfElseAction validates cfg and builds the action instance.
func NewIfElseAction(raw json.RawMessage) (Action, error) {
	var cfg IfElseConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	for _, c := range cfg.Cases {
		if c.ID == "" {
			return nil, domain.NewError(domain.ErrValidation, "if_else case requires a non-empty id", nil)
		}
		if c.ID == domain.HandleFalse {
			return nil, domain.NewError(domain.ErrValidation, `if_else case id "false" collides with the reserved no-match handle`, nil)
		}
	}
	return &IfElseAction{cfg: cfg}, nil
}

func (a *IfElseAction) Kind() domain.ActionKind { return domain.ActionIfElse }

func (a *IfElseAction) Run(ctx RunContext, nid string) Outcome {
	for _, c := range a.cfg.Cases {
		matched, err := evalCase(ctx, c)
		if err != nil {
			return Exception(err.Error())
		}
		if matched {
			return Succeeded(map[string]any{"result": true, "selected": c.ID})
		}
	}
	// all cases fail -> selected="false", the reserved handle literal,
	// not a free-form case id.
	return Succeeded(map[string]any{"result": false, "selected": domain.HandleFalse})
}

func evalCase(ctx RunContext, c Case) (bool, error) {
	if len(c.Conditions) == 0 {
		return false, nil
	}
	and := c.Logic != LogicOr
	for _, cond := range c.Conditions {
		ok, err := evalCondition(ctx, cond)
		if err != nil {
			return false, err
		}
		if and && !ok {
			return false, nil
		}
		if !and && ok {
			return true, nil
		}
	}
	return and, nil
}

func evalCondition(ctx RunContext, cond Condition) (bool, error) {
	values, err := template.ResolveToValues(ctx, cond.Selector)
	if err != nil {
		return false, err
	}
	var actual any
	if len(values) > 0 {
		actual = values[0]
	}

	switch cond.Comparator {
	case CmpExists:
		return actual != nil, nil
	case CmpTruthy:
		return isTruthy(actual), nil
	case CmpEquals:
		return compareEqual(actual, cond.Value), nil
	case CmpNotEquals:
		return !compareEqual(actual, cond.Value), nil
	case CmpGreaterThan, CmpGreaterEq, CmpLessThan, CmpLessEq:
		return compareOrdered(cond.Comparator, actual, cond.Value)
	case CmpContains:
		return compareContains(actual, cond.Value), nil
	default:
		return false, domain.NewError(domain.ErrValidation, fmt.Sprintf("unknown comparator %q", cond.Comparator), nil)
	}
}

func isTruthy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != ""
	case float64:
		return vv != 0
	default:
		return true
	}
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareOrdered(cmp Comparator, a, b any) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, domain.NewError(domain.ErrValidation, "ordered comparator requires numeric operands", nil)
	}
	switch cmp {
	case CmpGreaterThan:
		return af > bf, nil
	case CmpGreaterEq:
		return af >= bf, nil
	case CmpLessThan:
		return af < bf, nil
	case CmpLessEq:
		return af <= bf, nil
	default:
		return false, nil
	}
}

func compareContains(a, b any) bool {
	switch av := a.(type) {
	case string:
		return strings.Contains(av, fmt.Sprint(b))
	case []any:
		for _, elem := range av {
			if compareEqual(elem, b) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	default:
		return 0, false
	}
}
