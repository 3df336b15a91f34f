// Package graph implements the workflow runtime graph: an
// immutable adjacency-list topology built once from a
// domain.WorkflowModel, plus mutable per-node / per-edge state flags
// guarded by a single reader-writer lock. Readiness is tracked with an
// explicit Unknown/Taken/Executed/Skipped state machine rather than a
// bare completed-node set, so source-handle-based conditional routing
// and skip propagation have somewhere to live.
package graph

import (
	"fmt"
	"sync"

	"github.com/mbflow/wfengine/internal/domain"
)

type nodeEntry struct {
	model domain.NodeModel
	state domain.NodeState

	// outgoing/incoming edge ids, in definition order.
	outgoing []string
	incoming []string
}

type edgeEntry struct {
	model domain.EdgeModel
	state domain.EdgeState
}

// Workflow is the runtime graph for one process. It is safe for
// concurrent use: all mutations take the write lock, all reads the
// read lock, and every critical section is a short, non-blocking map
// operation.
type Workflow struct {
	mu sync.RWMutex

	model *domain.WorkflowModel

	nodeOrder []string // definition order, for root tie-breaking
	nodes     map[string]*nodeEntry
	edges     map[string]*edgeEntry

	rootID string
}

// Construct builds a Workflow from a model, failing if any edge
// references an unknown node id, if the graph has a reserved handle
// name collision, or if the graph is cyclic or multi-rooted.
func Construct(model *domain.WorkflowModel) (*Workflow, error) {
	w := &Workflow{
		model: model,
		nodes: make(map[string]*nodeEntry, len(model.Nodes)),
		edges: make(map[string]*edgeEntry, len(model.Edges)),
	}

	for _, n := range model.Nodes {
		if _, exists := w.nodes[n.ID]; exists {
			return nil, domain.NewErrorf(domain.ErrValidation, nil, "duplicate node id %q", n.ID)
		}
		if !n.Uses.IsValid() {
			return nil, domain.NewErrorf(domain.ErrValidation, nil, "node %q: unknown action kind %q", n.ID, n.Uses)
		}
		if !n.ErrorStrategy.IsValid() {
			return nil, domain.NewErrorf(domain.ErrValidation, nil, "node %q: invalid error_strategy %q", n.ID, n.ErrorStrategy)
		}
		w.nodes[n.ID] = &nodeEntry{model: n, state: domain.Unknown}
		w.nodeOrder = append(w.nodeOrder, n.ID)
	}

	for _, e := range model.Edges {
		if _, exists := w.edges[e.ID]; exists {
			return nil, domain.NewErrorf(domain.ErrValidation, nil, "duplicate edge id %q", e.ID)
		}
		src, ok := w.nodes[e.Source]
		if !ok {
			return nil, domain.NewErrorf(domain.ErrValidation, nil, "edge %q: unknown source node %q", e.ID, e.Source)
		}
		dst, ok := w.nodes[e.Target]
		if !ok {
			return nil, domain.NewErrorf(domain.ErrValidation, nil, "edge %q: unknown target node %q", e.ID, e.Target)
		}
		if e.SourceHandle == domain.HandleFalse {
			// A free-form handle literally named "false" is ambiguous
			// with the IfElse "no case matched" fallback handle and is
			// rejected unless the source node is actually an if_else
			// node.
			if src.model.Uses != domain.ActionIfElse {
				return nil, domain.NewErrorf(domain.ErrValidation, nil,
					"edge %q: source_handle \"false\" is reserved for if_else nodes, but source %q is %q", e.ID, e.Source, src.model.Uses)
			}
		}
		ee := &edgeEntry{model: e, state: domain.EdgeUnknown}
		w.edges[e.ID] = ee
		src.outgoing = append(src.outgoing, e.ID)
		dst.incoming = append(dst.incoming, e.ID)
	}

	if err := w.findRoot(); err != nil {
		return nil, err
	}
	if err := w.checkAcyclic(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Workflow) findRoot() error {
	var roots []string
	for _, id := range w.nodeOrder {
		if len(w.nodes[id].incoming) == 0 {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return domain.NewError(domain.ErrValidation, "workflow has no root node (every node has an incoming edge)", nil)
	}
	// Multiple roots are rejected rather than guessed at: picking one
	// by definition order would just be papering over an accidental
	// map-iteration order, not honoring an intended multi-root feature.
	if len(roots) > 1 {
		return domain.NewErrorf(domain.ErrValidation, nil, "workflow has %d root nodes (%v); exactly one is required", len(roots), roots)
	}
	w.rootID = roots[0]
	return nil
}

func (w *Workflow) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.nodeOrder))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, eid := range w.nodes[id].outgoing {
			tgt := w.edges[eid].model.Target
			switch color[tgt] {
			case white:
				if err := visit(tgt); err != nil {
					return err
				}
			case gray:
				return domain.NewErrorf(domain.ErrValidation, nil, "workflow graph contains a cycle through node %q", tgt)
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range w.nodeOrder {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Root returns the single node with no incoming edges.
func (w *Workflow) Root() string {
	return w.rootID
}

// Node returns the node model for id.
func (w *Workflow) Node(id string) (domain.NodeModel, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.nodes[id]
	if !ok {
		return domain.NodeModel{}, false
	}
	return n.model, true
}

// AllNodeIDs returns every node id in definition order.
func (w *Workflow) AllNodeIDs() []string {
	out := make([]string, len(w.nodeOrder))
	copy(out, w.nodeOrder)
	return out
}

// NodeState returns the current graph state of a node.
func (w *Workflow) NodeState(id string) domain.NodeState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.nodes[id]
	if !ok {
		return domain.Unknown
	}
	return n.state
}

// MarkTaken transitions a node Unknown -> Taken. Idempotent: marking an
// already-Taken (or later) node is a no-op.
func (w *Workflow) MarkTaken(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n, ok := w.nodes[id]; ok && n.state == domain.Unknown {
		n.state = domain.Taken
	}
}

// MarkExecuted transitions a node to Executed. Idempotent. Incoming
// edges previously marked Taken are promoted to Executed in the same
// critical section, completing the edge's Unknown -> Taken -> Executed
// traversal record.
func (w *Workflow) MarkExecuted(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[id]
	if !ok {
		return
	}
	if !n.state.IsTerminal() {
		n.state = domain.Executed
	}
	for _, eid := range n.incoming {
		if e := w.edges[eid]; e.state == domain.EdgeTaken {
			e.state = domain.EdgeExecuted
		}
	}
}

// MarkSkipped transitions a node to Skipped. Idempotent.
func (w *Workflow) MarkSkipped(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n, ok := w.nodes[id]; ok && !n.state.IsTerminal() {
		n.state = domain.Skipped
	}
}

// IsAllTerminal reports whether every node is Executed or Skipped.
func (w *Workflow) IsAllTerminal() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, id := range w.nodeOrder {
		if !w.nodes[id].state.IsTerminal() {
			return false
		}
	}
	return true
}

// NextReady returns the successors of n reachable by an edge whose
// source_handle equals selectedHandle, that are themselves Unknown,
// and for which every predecessor is now terminal.
func (w *Workflow) NextReady(n string, selectedHandle string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	src, ok := w.nodes[n]
	if !ok {
		return nil
	}

	var ready []string
	for _, eid := range src.outgoing {
		e := w.edges[eid]
		if e.model.SourceHandle != selectedHandle {
			continue
		}
		tgt := w.nodes[e.model.Target]
		if tgt.state != domain.Unknown {
			continue
		}
		if w.allPredecessorsTerminalLocked(e.model.Target) {
			ready = append(ready, e.model.Target)
		}
	}
	return ready
}

func (w *Workflow) allPredecessorsTerminalLocked(nodeID string) bool {
	n := w.nodes[nodeID]
	for _, eid := range n.incoming {
		pred := w.edges[eid].model.Source
		if !w.nodes[pred].state.IsTerminal() {
			return false
		}
	}
	return true
}

// SkipTransition is one (node, edge) pair that transitioned to Skipped
// during a SkipUnselected call, in the order it happened.
type SkipTransition struct {
	NodeID string
	EdgeID string
}

// SkipUnselected marks every outgoing edge of n whose handle is not
// selectedHandle as Skipped, then recursively skips each such edge's
// target node once every one of *its* incoming edges is Skipped, and
// continues the recursion through that node's own outgoing edges.
// This is the diamond-join-safe "all-incoming-skipped" propagation
// rule.
//
// The recursion is bounded by graph size and tolerant of a cyclic
// graph (rejected at construction, but the idempotent skip checks
// below make a cycle here harmless rather than infinite).
func (w *Workflow) SkipUnselected(n string, selectedHandle string) []SkipTransition {
	w.mu.Lock()
	defer w.mu.Unlock()

	var transitions []SkipTransition
	visitedEdges := make(map[string]bool)

	var skipEdge func(eid string)
	skipEdge = func(eid string) {
		if visitedEdges[eid] {
			return
		}
		visitedEdges[eid] = true

		e := w.edges[eid]
		if e.state != domain.EdgeUnknown {
			return
		}
		e.state = domain.EdgeSkipped

		tgt := w.nodes[e.model.Target]
		if tgt.state != domain.Unknown {
			return
		}
		if !w.allIncomingSkippedLocked(e.model.Target) {
			return
		}
		tgt.state = domain.Skipped
		transitions = append(transitions, SkipTransition{NodeID: e.model.Target, EdgeID: eid})

		for _, outEid := range tgt.outgoing {
			skipEdge(outEid)
		}
	}

	src, ok := w.nodes[n]
	if !ok {
		return nil
	}
	for _, eid := range src.outgoing {
		if w.edges[eid].model.SourceHandle != selectedHandle {
			skipEdge(eid)
		}
	}
	return transitions
}

func (w *Workflow) allIncomingSkippedLocked(nodeID string) bool {
	n := w.nodes[nodeID]
	for _, eid := range n.incoming {
		if w.edges[eid].state != domain.EdgeSkipped {
			return false
		}
	}
	return true
}

// MarkEdgeTaken records that a handle selection traversed an edge.
// The dispatcher calls this for every outgoing edge on the selected
// handle; the edge is promoted to Executed once its target node is
// marked Executed. Idempotent.
func (w *Workflow) MarkEdgeTaken(eid string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.edges[eid]; ok && e.state == domain.EdgeUnknown {
		e.state = domain.EdgeTaken
	}
}

// EdgeState returns the state of an edge.
func (w *Workflow) EdgeState(eid string) domain.EdgeState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if e, ok := w.edges[eid]; ok {
		return e.state
	}
	return domain.EdgeUnknown
}

// OutgoingEdges returns the edge models leaving n in definition order,
// used by the dispatcher to mark the selected handle's edges Taken.
func (w *Workflow) OutgoingEdges(n string) []domain.EdgeModel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	src, ok := w.nodes[n]
	if !ok {
		return nil
	}
	out := make([]domain.EdgeModel, 0, len(src.outgoing))
	for _, eid := range src.outgoing {
		out = append(out, w.edges[eid].model)
	}
	return out
}

// DebugString renders node/edge states, for test failure messages.
func (w *Workflow) DebugString() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := ""
	for _, id := range w.nodeOrder {
		s += fmt.Sprintf("%s=%s ", id, w.nodes[id].state)
	}
	return s
}
