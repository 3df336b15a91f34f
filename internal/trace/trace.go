// Package trace implements an optional, in-memory per-process event
// trace for debugging: every node/workflow event flowing over the
// Channel is appended, in order, to a mutex-guarded slice keyed by
// process id, so an embedder can pull a full replay of one run after
// the fact without having to subscribe before it starts.
package trace

import (
	"sync"
	"time"
)

// Event is one recorded point in a process's execution.
type Event struct {
	Timestamp time.Time
	NodeID    string
	Kind      string
	Message   string
	Data      map[string]any
	Error     string
}

// trace accumulates the events for one process.
type trace struct {
	mu     sync.Mutex
	wid    string
	events []Event
}

func (t *trace) add(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

func (t *trace) snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Recorder is a concurrency-safe registry of per-process traces, one
// Engine-wide instance shared across every Process it builds.
type Recorder struct {
	mu     sync.Mutex
	traces map[string]*trace // keyed by process id
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{traces: make(map[string]*trace)}
}

func (r *Recorder) trace(pid, wid string) *trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traces[pid]
	if !ok {
		t = &trace{wid: wid}
		r.traces[pid] = t
	}
	return t
}

// Record appends one event to the named process's trace, creating the
// trace on first use.
func (r *Recorder) Record(pid, wid, nid, kind, message string, data map[string]any, err error) {
	ev := Event{Timestamp: time.Now(), NodeID: nid, Kind: kind, Message: message, Data: data}
	if err != nil {
		ev.Error = err.Error()
	}
	r.trace(pid, wid).add(ev)
}

// Trace returns a snapshot of one process's recorded events, in
// recording order, and whether anything has been recorded for it.
func (r *Recorder) Trace(pid string) ([]Event, bool) {
	r.mu.Lock()
	t, ok := r.traces[pid]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return t.snapshot(), true
}

// Forget drops a process's trace. The Engine calls this once a process
// is evicted from its own registry, so trace memory doesn't grow
// without bound across long-lived Engines.
func (r *Recorder) Forget(pid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.traces, pid)
}
