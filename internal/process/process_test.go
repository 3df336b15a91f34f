package process

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mbflow/wfengine/internal/action"
	"github.com/mbflow/wfengine/internal/channel"
	"github.com/mbflow/wfengine/internal/dispatcher"
	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/graph"
	"github.com/mbflow/wfengine/internal/wfcontext"
)

func buildLinearProcess(t *testing.T) (*Process, *channel.Channel) {
	t.Helper()
	model := &domain.WorkflowModel{
		ID: "wf-1",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "end", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "end", SourceHandle: domain.HandleSource},
		},
	}
	wf, err := graph.Construct(model)
	require.NoError(t, err)

	bus := channel.New(0, 0, zerolog.Nop())
	bus.Run()
	t.Cleanup(bus.Shutdown)

	wctx := wfcontext.New(model.ID, model.Env, bus, zerolog.Nop())
	d, err := dispatcher.New("proc-1", wf, wctx, action.NewRegistry(), bus, 4, zerolog.Nop())
	require.NoError(t, err)

	return New("proc-1", model.ID, d, wctx, bus), bus
}

func TestProcess_StartRunsToCompletionAndSelfStops(t *testing.T) {
	p, _ := buildLinearProcess(t)
	require.Equal(t, "proc-1", p.ID())
	require.Equal(t, "wf-1", p.WID())
	require.False(t, p.IsComplete())

	p.Start()

	select {
	case <-p.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not stop after workflow completion")
	}
	require.True(t, p.IsComplete())
}

func TestProcess_AbortStopsProcess(t *testing.T) {
	model := &domain.WorkflowModel{
		ID: "wf-2",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "end", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "end", SourceHandle: domain.HandleSource},
		},
	}
	wf, err := graph.Construct(model)
	require.NoError(t, err)

	bus := channel.New(0, 0, zerolog.Nop())
	bus.Run()
	t.Cleanup(bus.Shutdown)

	wctx := wfcontext.New(model.ID, model.Env, bus, zerolog.Nop())
	d, err := dispatcher.New("proc-2", wf, wctx, action.NewRegistry(), bus, 4, zerolog.Nop())
	require.NoError(t, err)

	p := New("proc-2", model.ID, d, wctx, bus)
	p.dispatcher.Run()
	p.bus.OnEvent(p.pid, "", false, func(msg channel.EventMessage) {
		if evt, ok := msg.Payload.(domain.WorkflowEvent); ok && evt.Kind == domain.WorkflowAborted {
			p.complete.Store(true)
			p.dispatcher.Stop()
		}
	})
	p.Abort()

	select {
	case <-p.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not stop after abort")
	}
	require.Eventually(t, p.IsComplete, time.Second, 5*time.Millisecond)
}

func TestProcess_GetOutputsSnapshotsRecordedVars(t *testing.T) {
	p, _ := buildLinearProcess(t)
	p.Start()

	select {
	case <-p.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not stop")
	}

	outputs := p.GetOutputs()
	_, ok := outputs["start"]
	require.True(t, ok)
}
