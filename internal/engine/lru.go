package engine

import (
	"container/list"
	"sync"

	"github.com/mbflow/wfengine/internal/process"
)

// processLRU is a thread-safe, bounded-capacity process registry with
// LRU eviction, built the same way as a compiled-expression cache would
// be: container/list plus a map, guarded by a single mutex.
type processLRU struct {
	capacity int
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	pid  string
	proc *process.Process
}

func newProcessLRU(capacity int) *processLRU {
	if capacity <= 0 {
		capacity = 2048
	}
	return &processLRU{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Put inserts or refreshes a process, evicting the least-recently-used
// entry if the registry is at capacity.
func (l *processLRU) Put(pid string, p *process.Process) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[pid]; ok {
		el.Value.(*lruEntry).proc = p
		l.order.MoveToFront(el)
		return
	}

	el := l.order.PushFront(&lruEntry{pid: pid, proc: p})
	l.items[pid] = el

	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.items, oldest.Value.(*lruEntry).pid)
		}
	}
}

// Get returns a tracked process, marking it most-recently-used.
func (l *processLRU) Get(pid string) (*process.Process, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[pid]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruEntry).proc, true
}

// Remove evicts pid, if present.
func (l *processLRU) Remove(pid string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[pid]
	if !ok {
		return
	}
	l.order.Remove(el)
	delete(l.items, pid)
}

// All returns a snapshot of every tracked process.
func (l *processLRU) All() []*process.Process {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*process.Process, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*lruEntry).proc)
	}
	return out
}
