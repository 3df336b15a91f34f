package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbflow/wfengine/internal/domain"
)

type fakeStore struct {
	env     map[string]string
	outputs map[string]*domain.Vars
}

func (f *fakeStore) GetEnv(name string) (string, bool) {
	v, ok := f.env[name]
	return v, ok
}

func (f *fakeStore) GetOutput(nodeID string) (*domain.Vars, bool) {
	v, ok := f.outputs[nodeID]
	return v, ok
}

func newFakeStore() *fakeStore {
	return &fakeStore{env: map[string]string{}, outputs: map[string]*domain.Vars{}}
}

func TestResolveTemplate_EnvAndOutputTokens(t *testing.T) {
	s := newFakeStore()
	s.env["API_KEY"] = "secret123"
	s.outputs["http1"] = domain.VarsFrom(map[string]any{
		"status_code": float64(200),
		"body":        map[string]any{"user": map[string]any{"name": "ada"}},
	})

	out, err := ResolveTemplate(s, "key={{$API_KEY$}} status={{#http1.status_code#}} name={{#http1.body.user.name#}}")
	require.NoError(t, err)
	assert.Equal(t, "key=secret123 status=200 name=ada", out)
}

func TestResolveTemplate_UnresolvedTokenAccumulates(t *testing.T) {
	s := newFakeStore()
	_, err := ResolveTemplate(s, "{{$MISSING$}} and {{#ghost.path#}}")
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrTemplateUnresolved, derr.Code)
	assert.Contains(t, derr.Message, "MISSING")
	assert.Contains(t, derr.Message, "ghost.path")
}

func TestResolveTemplate_WholeOutputAsMap(t *testing.T) {
	s := newFakeStore()
	s.outputs["n1"] = domain.VarsFrom(map[string]any{"a": 1})
	out, err := ResolveTemplate(s, "{{#n1#}}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out)
}

func TestResolveToValues_NoTokensPassesThroughRaw(t *testing.T) {
	s := newFakeStore()
	vals, err := ResolveToValues(s, "plain-string")
	require.NoError(t, err)
	assert.Equal(t, []any{"plain-string"}, vals)
}

func TestResolveToValues_ReturnsRawTypedValue(t *testing.T) {
	s := newFakeStore()
	s.outputs["n1"] = domain.VarsFrom(map[string]any{"count": float64(5)})
	vals, err := ResolveToValues(s, "{{#n1.count#}}")
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, float64(5), vals[0])
}

func TestResolveJSON_RecursesAndParsesEmbeddedJSON(t *testing.T) {
	s := newFakeStore()
	s.outputs["n1"] = domain.VarsFrom(map[string]any{"obj": map[string]any{"k": "v"}})

	doc := map[string]any{
		"nested": []any{"{{#n1.obj#}}", "literal"},
	}
	out, err := ResolveJSON(s, doc)
	require.NoError(t, err)

	m := out.(map[string]any)
	arr := m["nested"].([]any)
	assert.Equal(t, map[string]any{"k": "v"}, arr[0])
	assert.Equal(t, "literal", arr[1])
}
