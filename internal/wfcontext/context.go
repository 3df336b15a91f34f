// Package wfcontext implements the per-process Context: the
// environment and node-output maps, the template resolver's data
// source, the log-emission path onto the Channel, and the
// done/wait_shutdown cancellation signal.
//
// env and outputs are backed by github.com/puzpuzpuz/xsync/v3's
// MapOf, a lock-striped concurrent map, rather than a single mutex
// guarding a plain Go map, for thread-safe, expected-O(1) access.
package wfcontext

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/mbflow/wfengine/internal/domain"
)

// warnCapacity is the threshold (capacity >= 1024) at which a single
// Warn-level log fires. The maps themselves are left unbounded;
// nothing is evicted or dropped.
const warnCapacity = 1024

// LogSink receives log messages emitted by actions via Context.EmitLog.
// Satisfied by *channel.Channel; kept as a narrow interface here to
// avoid a wfcontext -> channel import cycle (channel messages are
// tagged with the pid/nid that Context already owns).
type LogSink interface {
	PublishLog(pid, nid, content string)
}

// Context is the per-process scratchpad threaded through every action
// invocation.
type Context struct {
	pid  string
	sink LogSink
	log  zerolog.Logger

	env     *xsync.MapOf[string, string]
	outputs *xsync.MapOf[string, *domain.Vars]

	envWarned     sync.Once
	outputsWarned sync.Once

	doneCh   chan struct{}
	doneOnce sync.Once
}

// New creates a Context for one process, seeded with the workflow's
// declared env map.
func New(pid string, env map[string]string, sink LogSink, logger zerolog.Logger) *Context {
	c := &Context{
		pid:     pid,
		sink:    sink,
		log:     logger.With().Str("pid", pid).Logger(),
		env:     xsync.NewMapOf[string, string](),
		outputs: xsync.NewMapOf[string, *domain.Vars](),
		doneCh:  make(chan struct{}),
	}
	for k, v := range env {
		c.env.Store(k, v)
	}
	return c
}

// PID returns the process id this context belongs to.
func (c *Context) PID() string {
	return c.pid
}

// GetEnv returns the value of an environment key.
func (c *Context) GetEnv(name string) (string, bool) {
	return c.env.Load(name)
}

// SetEnv sets an environment key, warning once if the map has grown
// past warnCapacity distinct keys.
func (c *Context) SetEnv(name, value string) {
	c.env.Store(name, value)
	if c.env.Size() > warnCapacity {
		c.envWarned.Do(func() {
			c.log.Warn().Int("size", c.env.Size()).Msg("context env map exceeded warning capacity; continuing unbounded")
		})
	}
}

// AddOutput records the output Vars for a node. Callers must write
// this strictly before publishing that node's Succeeded event.
func (c *Context) AddOutput(nid string, vars *domain.Vars) {
	c.outputs.Store(nid, vars)
	if c.outputs.Size() > warnCapacity {
		c.outputsWarned.Do(func() {
			c.log.Warn().Int("size", c.outputs.Size()).Msg("context outputs map exceeded warning capacity; continuing unbounded")
		})
	}
}

// GetOutput returns the recorded output Vars for a node, if any.
func (c *Context) GetOutput(nid string) (*domain.Vars, bool) {
	return c.outputs.Load(nid)
}

// AllOutputs returns a snapshot of every recorded node output, keyed by
// node id; used by WorkflowEvent::Aborted's outputs field.
func (c *Context) AllOutputs() map[string]*domain.Vars {
	out := make(map[string]*domain.Vars)
	c.outputs.Range(func(k string, v *domain.Vars) bool {
		out[k] = v
		return true
	})
	return out
}

// EmitLog timestamps and enqueues a log message onto the Channel. It
// never blocks the caller: the sink's own queue is bounded and drops
// the oldest entry on overflow.
func (c *Context) EmitLog(nid string, content string) {
	if c.sink != nil {
		c.sink.PublishLog(c.pid, nid, content)
	}
}

// Done marks the process complete. Idempotent.
func (c *Context) Done() {
	c.doneOnce.Do(func() { close(c.doneCh) })
}

// IsDone reports whether Done has been called, without blocking.
func (c *Context) IsDone() bool {
	select {
	case <-c.doneCh:
		return true
	default:
		return false
	}
}

// WaitShutdown returns a channel that closes once Done is called, for
// actions and the dispatcher's worker loop to race against.
func (c *Context) WaitShutdown() <-chan struct{} {
	return c.doneCh
}

// Sleep blocks for d, or returns early if shutdown is signalled or ctx
// is cancelled. Returns true if the sleep completed normally.
func (c *Context) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.WaitShutdown():
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.WaitShutdown():
		return false
	case <-ctx.Done():
		return false
	}
}
