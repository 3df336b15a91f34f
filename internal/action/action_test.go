package action

import (
	"github.com/mbflow/wfengine/internal/domain"
)

// fakeRunContext is a minimal RunContext for exercising actions in
// isolation, without a real wfcontext.Context or Channel.
type fakeRunContext struct {
	pid     string
	env     map[string]string
	outputs map[string]*domain.Vars
	logs    []string
	done    chan struct{}
}

func newFakeRunContext() *fakeRunContext {
	return &fakeRunContext{
		env:     map[string]string{},
		outputs: map[string]*domain.Vars{},
		done:    make(chan struct{}),
	}
}

func (f *fakeRunContext) PID() string { return f.pid }

func (f *fakeRunContext) GetEnv(name string) (string, bool) {
	v, ok := f.env[name]
	return v, ok
}

func (f *fakeRunContext) GetOutput(nodeID string) (*domain.Vars, bool) {
	v, ok := f.outputs[nodeID]
	return v, ok
}

func (f *fakeRunContext) EmitLog(nid, content string) {
	f.logs = append(f.logs, content)
}

func (f *fakeRunContext) WaitShutdown() <-chan struct{} {
	return f.done
}
