// Package template implements two token grammars: output references
// ({{#nodeId.keyPath#}}) resolved against a process's node outputs, and
// environment references ({{$NAME$}}) resolved against its env map.
// Resolution is regex-driven, the same shape as a strict/lenient
// dual-mode {{var}}/${expr} template processor, but this grammar
// treats an unresolved token as a hard error rather than leaving the
// placeholder in place.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mbflow/wfengine/internal/domain"
)

// Store is the minimal data source the resolver needs. *wfcontext.Context
// satisfies this directly.
type Store interface {
	GetEnv(name string) (string, bool)
	GetOutput(nodeID string) (*domain.Vars, bool)
}

var (
	envTokenRe    = regexp.MustCompile(`\{\{\$([^$]+)\$\}\}`)
	outputTokenRe = regexp.MustCompile(`\{\{#([^#]+)#\}\}`)
)

// ResolveTemplate expands every token in s: env tokens first, then
// output tokens. Scalars stringify naturally; objects and arrays
// stringify as their JSON form. Any token that cannot be bound
// accumulates into a single comma-joined domain.ErrTemplateUnresolved
// error.
func ResolveTemplate(store Store, s string) (string, error) {
	var unresolved []string

	result := envTokenRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envTokenRe.FindStringSubmatch(match)[1]
		val, ok := store.GetEnv(name)
		if !ok {
			unresolved = append(unresolved, match)
			return match
		}
		return val
	})

	result = outputTokenRe.ReplaceAllStringFunc(result, func(match string) string {
		val, ok := resolveOutputToken(store, match)
		if !ok {
			unresolved = append(unresolved, match)
			return match
		}
		return stringifyValue(val)
	})

	if len(unresolved) > 0 {
		return "", domain.NewErrorf(domain.ErrTemplateUnresolved, nil, "unresolved template tokens: %s", strings.Join(unresolved, ", "))
	}
	return result, nil
}

// ResolveToValues returns the raw JSON values (no stringification) for
// each output token encountered in s, in left-to-right order. If s
// contains no output tokens, it returns a single-element slice holding
// s itself unchanged.
func ResolveToValues(store Store, s string) ([]any, error) {
	matches := outputTokenRe.FindAllString(s, -1)
	if len(matches) == 0 {
		return []any{s}, nil
	}

	var unresolved []string
	values := make([]any, 0, len(matches))
	for _, m := range matches {
		val, ok := resolveOutputToken(store, m)
		if !ok {
			unresolved = append(unresolved, m)
			continue
		}
		values = append(values, val)
	}
	if len(unresolved) > 0 {
		return nil, domain.NewErrorf(domain.ErrTemplateUnresolved, nil, "unresolved template tokens: %s", strings.Join(unresolved, ", "))
	}
	return values, nil
}

// ResolveJSON recurses through v (the result of unmarshalling a JSON
// document into any): every string leaf is passed through
// ResolveTemplate and, if the result starts with '{' or '[', is
// attempted as a JSON parse; on parse failure it is left as a plain
// string.
func ResolveJSON(store Store, v any) (any, error) {
	switch val := v.(type) {
	case string:
		resolved, err := ResolveTemplate(store, val)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(resolved)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var parsed any
			if err := json.Unmarshal([]byte(resolved), &parsed); err == nil {
				return parsed, nil
			}
		}
		return resolved, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			resolved, err := ResolveJSON(store, elem)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			resolved, err := ResolveJSON(store, elem)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveOutputToken resolves a single "{{#nodeId.keyPath#}}" match
// against the store's recorded node outputs.
func resolveOutputToken(store Store, match string) (any, bool) {
	inner := outputTokenRe.FindStringSubmatch(match)[1]
	nodeID, path, found := strings.Cut(inner, ".")
	if !found {
		// No key path: the whole output Vars, as a map.
		vars, ok := store.GetOutput(nodeID)
		if !ok {
			return nil, false
		}
		return vars.ToMap(), true
	}
	vars, ok := store.GetOutput(nodeID)
	if !ok {
		return nil, false
	}
	return vars.GetPath(path)
}

func stringifyValue(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case map[string]any, []any:
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(b)
	default:
		return fmt.Sprint(vv)
	}
}
