package action

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbflow/wfengine/internal/domain"
)

func TestStartAction_SucceedsWithEmptyOutputs(t *testing.T) {
	act := &StartAction{}
	assert.Equal(t, domain.ActionStart, act.Kind())

	out := act.Run(newFakeRunContext(), "start")
	assert.Equal(t, domain.Succeeded, out.Status)
	assert.Equal(t, 0, out.Outputs.Len())
}

func TestEndAction_SucceedsWithEmptyOutputs(t *testing.T) {
	act := &EndAction{}
	assert.Equal(t, domain.ActionEnd, act.Kind())

	out := act.Run(newFakeRunContext(), "end")
	assert.Equal(t, domain.Succeeded, out.Status)
	assert.Equal(t, 0, out.Outputs.Len())
}
