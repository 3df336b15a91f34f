package dispatcher

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mbflow/wfengine/internal/action"
	"github.com/mbflow/wfengine/internal/channel"
	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/graph"
	"github.com/mbflow/wfengine/internal/wfcontext"
)

// fakeAction lets a test script a node's outcome sequence without going
// through a real built-in action; it is registered under an existing
// ActionKind (most often ActionCode) so graph.Construct's closed
// Uses.IsValid() check still passes.
type fakeAction struct {
	kind domain.ActionKind
	run  func(ctx action.RunContext, nid string) action.Outcome
}

func (f *fakeAction) Kind() domain.ActionKind { return f.kind }
func (f *fakeAction) Run(ctx action.RunContext, nid string) action.Outcome {
	return f.run(ctx, nid)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []channel.EventMessage
}

func (r *eventRecorder) record(msg channel.EventMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
}

func (r *eventRecorder) snapshot() []channel.EventMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channel.EventMessage(nil), r.events...)
}

func waitUntil(t *testing.T, timeout time.Duration, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func workflowEventKinds(events []channel.EventMessage) []domain.WorkflowEventKind {
	var out []domain.WorkflowEventKind
	for _, e := range events {
		if e.NID == "" {
			if we, ok := e.Payload.(domain.WorkflowEvent); ok {
				out = append(out, we.Kind)
			}
		}
	}
	return out
}

func nodeEventKinds(events []channel.EventMessage, nid string) []domain.NodeEventKind {
	var out []domain.NodeEventKind
	for _, e := range events {
		if e.NID == nid {
			if ne, ok := e.Payload.(domain.NodeEvent); ok {
				out = append(out, ne.Kind)
			}
		}
	}
	return out
}

func containsWorkflowKind(events []channel.EventMessage, kind domain.WorkflowEventKind) bool {
	for _, k := range workflowEventKinds(events) {
		if k == kind {
			return true
		}
	}
	return false
}

// harness wires a Dispatcher plus a recording Channel for one test.
type harness struct {
	wf       *graph.Workflow
	wctx     *wfcontext.Context
	bus      *channel.Channel
	recorder *eventRecorder
	disp     *Dispatcher
}

func newHarness(t *testing.T, model *domain.WorkflowModel, registry *action.Registry) *harness {
	t.Helper()
	wf, err := graph.Construct(model)
	require.NoError(t, err)

	bus := channel.New(0, 0, zerolog.Nop())
	rec := &eventRecorder{}
	bus.OnEvent("*", "*", false, rec.record)
	bus.Run()
	t.Cleanup(bus.Shutdown)

	wctx := wfcontext.New(model.ID, model.Env, bus, zerolog.Nop())

	d, err := New(model.ID, wf, wctx, registry, bus, 4, zerolog.Nop())
	require.NoError(t, err)

	return &harness{wf: wf, wctx: wctx, bus: bus, recorder: rec, disp: d}
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func succeedingFake(kind domain.ActionKind, outputs map[string]any) *fakeAction {
	return &fakeAction{kind: kind, run: func(ctx action.RunContext, nid string) action.Outcome {
		return action.Succeeded(outputs)
	}}
}

func TestDispatcher_LinearWorkflowRunsToCompletion(t *testing.T) {
	model := &domain.WorkflowModel{
		ID: "wf-linear",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "mid", Uses: domain.ActionCode},
			{ID: "end", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "mid", SourceHandle: domain.HandleSource},
			{ID: "e2", Source: "mid", Target: "end", SourceHandle: domain.HandleSource},
		},
	}

	registry := action.NewRegistry()
	registry.Register(domain.ActionCode, func(json.RawMessage) (action.Action, error) {
		return succeedingFake(domain.ActionCode, map[string]any{"ran": true}), nil
	})

	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)

	h.disp.SendCommand(CmdStart)

	waitUntil(t, 2*time.Second, func() bool {
		return containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowSucceeded)
	})

	assert := func(cond bool, msg string) {
		if !cond {
			t.Fatal(msg)
		}
	}
	assert(h.wf.NodeState("start") == domain.Executed, "start should be Executed")
	assert(h.wf.NodeState("mid") == domain.Executed, "mid should be Executed")
	assert(h.wf.NodeState("end") == domain.Executed, "end should be Executed")

	out, ok := h.wctx.GetOutput("mid")
	require.True(t, ok)
	ran, _ := out.Get("ran")
	assert(ran == true, "mid output should be recorded")

	assert(h.wf.EdgeState("e1") == domain.EdgeExecuted, "traversed edge e1 should be Executed")
	assert(h.wf.EdgeState("e2") == domain.EdgeExecuted, "traversed edge e2 should be Executed")
}

func TestDispatcher_IfElseBranchSkipsTheOtherSide(t *testing.T) {
	ifCfg := map[string]any{
		"cases": []map[string]any{
			{"id": "true", "conditions": []map[string]any{{"selector": "ok", "comparator": "truthy"}}},
		},
	}
	model := &domain.WorkflowModel{
		ID: "wf-ifelse",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "branch", Uses: domain.ActionIfElse, Action: rawJSON(t, ifCfg)},
			{ID: "onTrue", Uses: domain.ActionCode},
			{ID: "onFalse", Uses: domain.ActionCode},
			{ID: "join", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "branch", SourceHandle: domain.HandleSource},
			{ID: "e2", Source: "branch", Target: "onTrue", SourceHandle: "true"},
			{ID: "e3", Source: "branch", Target: "onFalse", SourceHandle: domain.HandleFalse},
			{ID: "e4", Source: "onTrue", Target: "join", SourceHandle: domain.HandleSource},
			{ID: "e5", Source: "onFalse", Target: "join", SourceHandle: domain.HandleSource},
		},
	}

	registry := action.NewRegistry()
	registry.Register(domain.ActionCode, func(json.RawMessage) (action.Action, error) {
		return succeedingFake(domain.ActionCode, nil), nil
	})

	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)
	h.disp.SendCommand(CmdStart)

	waitUntil(t, 2*time.Second, func() bool {
		return containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowSucceeded)
	})

	require.Equal(t, domain.Executed, h.wf.NodeState("onTrue"))
	require.Equal(t, domain.Skipped, h.wf.NodeState("onFalse"))
	require.Equal(t, domain.Executed, h.wf.NodeState("join"), "join must become ready once its skipped predecessor is terminal")
	require.Equal(t, domain.EdgeSkipped, h.wf.EdgeState("e3"), "unselected branch edge must be Skipped")
	require.Equal(t, domain.EdgeExecuted, h.wf.EdgeState("e2"), "selected branch edge must be Executed")
}

func TestDispatcher_TimeoutFailsTheNode(t *testing.T) {
	timeout := uint64(50)
	model := &domain.WorkflowModel{
		ID: "wf-timeout",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "slow", Uses: domain.ActionCode, TimeoutMS: &timeout},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "slow", SourceHandle: domain.HandleSource},
		},
	}

	registry := action.NewRegistry()
	registry.Register(domain.ActionCode, func(json.RawMessage) (action.Action, error) {
		return &fakeAction{kind: domain.ActionCode, run: func(ctx action.RunContext, nid string) action.Outcome {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.WaitShutdown():
			}
			return action.Succeeded(nil)
		}}, nil
	})

	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)
	h.disp.SendCommand(CmdStart)

	waitUntil(t, 2*time.Second, func() bool {
		return containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowFailed)
	})

	var errorEvent *domain.NodeEvent
	for _, e := range h.recorder.snapshot() {
		if e.NID == "slow" {
			if ne, ok := e.Payload.(domain.NodeEvent); ok && ne.Kind == domain.NodeError {
				errorEvent = &ne
				break
			}
		}
	}
	require.NotNil(t, errorEvent)
	require.Equal(t, "Timeout", errorEvent.Error)
}

func TestDispatcher_RetryEventuallySucceeds(t *testing.T) {
	model := &domain.WorkflowModel{
		ID: "wf-retry",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "flaky", Uses: domain.ActionCode, Retry: &domain.RetryConfig{Times: 2, Interval: 0}},
			{ID: "end", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "flaky", SourceHandle: domain.HandleSource},
			{ID: "e2", Source: "flaky", Target: "end", SourceHandle: domain.HandleSource},
		},
	}

	var mu sync.Mutex
	attempts := 0
	registry := action.NewRegistry()
	registry.Register(domain.ActionCode, func(json.RawMessage) (action.Action, error) {
		return &fakeAction{kind: domain.ActionCode, run: func(ctx action.RunContext, nid string) action.Outcome {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 2 {
				return action.Failed("flaky failure")
			}
			return action.Succeeded(nil)
		}}, nil
	})

	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)
	h.disp.SendCommand(CmdStart)

	waitUntil(t, 2*time.Second, func() bool {
		return containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowSucceeded)
	})

	kinds := nodeEventKinds(h.recorder.snapshot(), "flaky")
	require.Contains(t, kinds, domain.NodeRetry)
	require.Contains(t, kinds, domain.NodeSucceeded)
}

func TestDispatcher_ErrorStrategyNoneTerminatesWorkflow(t *testing.T) {
	model := &domain.WorkflowModel{
		ID: "wf-fail",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "boom", Uses: domain.ActionCode},
			{ID: "end", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "boom", SourceHandle: domain.HandleSource},
			{ID: "e2", Source: "boom", Target: "end", SourceHandle: domain.HandleSource},
		},
	}

	registry := action.NewRegistry()
	registry.Register(domain.ActionCode, func(json.RawMessage) (action.Action, error) {
		return &fakeAction{kind: domain.ActionCode, run: func(ctx action.RunContext, nid string) action.Outcome {
			return action.Exception("permanent failure")
		}}, nil
	})

	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)
	h.disp.SendCommand(CmdStart)

	waitUntil(t, 2*time.Second, func() bool {
		return containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowFailed)
	})
	require.Equal(t, domain.Unknown, h.wf.NodeState("end"), "end must never be spawned once the workflow fails")
}

func TestDispatcher_ErrorStrategyFailBranchRoutesAroundFailure(t *testing.T) {
	model := &domain.WorkflowModel{
		ID: "wf-failbranch",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "risky", Uses: domain.ActionCode, ErrorStrategy: domain.ErrorStrategyFailBranch},
			{ID: "recovered", Uses: domain.ActionEnd},
			{ID: "normal", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "risky", SourceHandle: domain.HandleSource},
			{ID: "e2", Source: "risky", Target: "recovered", SourceHandle: domain.HandleFailBranch},
			{ID: "e3", Source: "risky", Target: "normal", SourceHandle: domain.HandleSource},
		},
	}

	registry := action.NewRegistry()
	registry.Register(domain.ActionCode, func(json.RawMessage) (action.Action, error) {
		return &fakeAction{kind: domain.ActionCode, run: func(ctx action.RunContext, nid string) action.Outcome {
			return action.Failed("downstream unavailable")
		}}, nil
	})

	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)
	h.disp.SendCommand(CmdStart)

	waitUntil(t, 2*time.Second, func() bool {
		return h.wf.NodeState("recovered") == domain.Executed
	})

	require.Equal(t, domain.Skipped, h.wf.NodeState("normal"))
	require.False(t, containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowFailed))
}

func TestDispatcher_ErrorStrategyDefaultValueSubstitutesOutputsAndContinues(t *testing.T) {
	model := &domain.WorkflowModel{
		ID: "wf-defaultvalue",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{
				ID: "risky", Uses: domain.ActionCode,
				ErrorStrategy:  domain.ErrorStrategyDefaultValue,
				DefaultOutputs: map[string]any{"status_code": float64(0)},
			},
			{ID: "end", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "risky", SourceHandle: domain.HandleSource},
			{ID: "e2", Source: "risky", Target: "end", SourceHandle: domain.HandleSource},
		},
	}

	registry := action.NewRegistry()
	registry.Register(domain.ActionCode, func(json.RawMessage) (action.Action, error) {
		return &fakeAction{kind: domain.ActionCode, run: func(ctx action.RunContext, nid string) action.Outcome {
			return action.Exception("unreachable endpoint")
		}}, nil
	})

	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)
	h.disp.SendCommand(CmdStart)

	waitUntil(t, 2*time.Second, func() bool {
		return containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowSucceeded)
	})

	out, ok := h.wctx.GetOutput("risky")
	require.True(t, ok)
	code, _ := out.Get("status_code")
	require.Equal(t, float64(0), code)
}

func TestDispatcher_AbortCommandStopsWithoutRunningSuccessors(t *testing.T) {
	model := &domain.WorkflowModel{
		ID: "wf-abort",
		Nodes: []domain.NodeModel{
			{ID: "start", Uses: domain.ActionStart},
			{ID: "end", Uses: domain.ActionEnd},
		},
		Edges: []domain.EdgeModel{
			{ID: "e1", Source: "start", Target: "end", SourceHandle: domain.HandleSource},
		},
	}

	registry := action.NewRegistry()
	h := newHarness(t, model, registry)
	h.disp.Run()
	t.Cleanup(h.disp.Stop)

	h.disp.SendCommand(CmdAbort)

	waitUntil(t, time.Second, func() bool {
		return containsWorkflowKind(h.recorder.snapshot(), domain.WorkflowAborted)
	})

	select {
	case <-h.disp.Stopped():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after abort")
	}
}
