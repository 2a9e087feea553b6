package graph

import (
	"github.com/google/uuid"

	"github.com/rendis/flowlab/pkg/schema"
)

// Canonical identifiers of the anchors of a new flowchart.
const (
	StartID        = "n_start"
	EndID          = "n_end"
	StartEndEdgeID = "e_start_end"
)

// Limits bounds a single execution of a flowchart.
type Limits struct {
	MaxSteps                 int   `json:"maxSteps"`
	MaxTimeMs                int64 `json:"maxTimeMs"`
	MaxLoopIterationsPerNode int   `json:"maxLoopIterationsPerNode"`
}

// DefaultLimits returns the engine defaults.
func DefaultLimits() Limits {
	return Limits{MaxSteps: 10000, MaxTimeMs: 5000, MaxLoopIterationsPerNode: 1000}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxSteps <= 0 {
		l.MaxSteps = d.MaxSteps
	}
	if l.MaxTimeMs <= 0 {
		l.MaxTimeMs = d.MaxTimeMs
	}
	if l.MaxLoopIterationsPerNode <= 0 {
		l.MaxLoopIterationsPerNode = d.MaxLoopIterationsPerNode
	}
	return l
}

// Flowchart owns nodes and edges in stable insertion order. Mutations are
// all-or-nothing; *Node and *Edge values obtained before a successful
// mutation must be looked up again afterwards.
type Flowchart struct {
	nodes     map[string]*Node
	edges     map[string]*Edge
	nodeOrder []string
	edgeOrder []string

	startID string
	endID   string

	Limits Limits

	newEdgeID func() string
}

// Option configures a Flowchart.
type Option func(*Flowchart)

// WithEdgeIDGenerator overrides generation of ids for synthesized edges.
func WithEdgeIDGenerator(gen func() string) Option {
	return func(f *Flowchart) { f.newEdgeID = gen }
}

// WithLimits sets the execution limits; zero fields keep the defaults.
func WithLimits(l Limits) Option {
	return func(f *Flowchart) { f.Limits = l.withDefaults() }
}

func newEmpty(opts ...Option) *Flowchart {
	f := &Flowchart{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*Edge),
		Limits:    DefaultLimits(),
		newEdgeID: func() string { return "e_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New returns a flowchart holding only Start, End and the canonical
// Start→End edge.
func New(opts ...Option) *Flowchart {
	f := newEmpty(opts...)
	f.putNode(&Node{ID: StartID, Kind: KindStart, Label: "Start", Data: map[string]any{}})
	f.putNode(&Node{ID: EndID, Kind: KindEnd, Label: "End", Data: map[string]any{}})
	f.startID, f.endID = StartID, EndID
	f.putEdge(&Edge{ID: StartEndEdgeID, Source: StartID, Target: EndID, Condition: CondAuto})
	return f
}

// StartID returns the id of the Start node.
func (f *Flowchart) StartID() string { return f.startID }

// EndID returns the id of the End node.
func (f *Flowchart) EndID() string { return f.endID }

// Node looks up a node by id.
func (f *Flowchart) Node(id string) (*Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Edge looks up an edge by id.
func (f *Flowchart) Edge(id string) (*Edge, bool) {
	e, ok := f.edges[id]
	return e, ok
}

// Nodes returns the nodes in insertion order.
func (f *Flowchart) Nodes() []*Node {
	out := make([]*Node, 0, len(f.nodeOrder))
	for _, id := range f.nodeOrder {
		out = append(out, f.nodes[id])
	}
	return out
}

// Edges returns the edges in insertion order.
func (f *Flowchart) Edges() []*Edge {
	out := make([]*Edge, 0, len(f.edgeOrder))
	for _, id := range f.edgeOrder {
		out = append(out, f.edges[id])
	}
	return out
}

// NodeCount returns the number of nodes.
func (f *Flowchart) NodeCount() int { return len(f.nodes) }

// EdgeCount returns the number of edges.
func (f *Flowchart) EdgeCount() int { return len(f.edges) }

// OutgoingEdges resolves the outgoing edges of a node in order.
func (f *Flowchart) OutgoingEdges(nodeID string) []*Edge {
	n, ok := f.nodes[nodeID]
	if !ok {
		return nil
	}
	out := make([]*Edge, 0, len(n.Outgoing))
	for _, id := range n.Outgoing {
		if e, ok := f.edges[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges resolves the incoming edges of a node in order.
func (f *Flowchart) IncomingEdges(nodeID string) []*Edge {
	n, ok := f.nodes[nodeID]
	if !ok {
		return nil
	}
	out := make([]*Edge, 0, len(n.Incoming))
	for _, id := range n.Incoming {
		if e, ok := f.edges[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy sharing no mutable state with f.
func (f *Flowchart) Clone() *Flowchart {
	c := &Flowchart{
		nodes:     make(map[string]*Node, len(f.nodes)),
		edges:     make(map[string]*Edge, len(f.edges)),
		nodeOrder: append([]string(nil), f.nodeOrder...),
		edgeOrder: append([]string(nil), f.edgeOrder...),
		startID:   f.startID,
		endID:     f.endID,
		Limits:    f.Limits,
		newEdgeID: f.newEdgeID,
	}
	for id, n := range f.nodes {
		c.nodes[id] = n.clone()
	}
	for id, e := range f.edges {
		c.edges[id] = e.clone()
	}
	return c
}

// Sanitize clears runtime-only fields: loop runtime state, payload keys
// prefixed with "_" and any captured Input value. Business payload is kept.
func (f *Flowchart) Sanitize() {
	for _, n := range f.nodes {
		n.Loop = nil
		for k := range n.Data {
			if len(k) > 0 && k[0] == '_' {
				delete(n.Data, k)
			}
		}
		if n.Kind == KindInput {
			delete(n.Data, "value")
		}
	}
}

// SanitizedClone is Clone followed by Sanitize.
func (f *Flowchart) SanitizedClone() *Flowchart {
	c := f.Clone()
	c.Sanitize()
	return c
}

// ResetLoops clears the runtime state of every loop node.
func (f *Flowchart) ResetLoops() {
	for _, n := range f.nodes {
		n.Loop = nil
	}
}

// commit replaces f's content with the verified working copy w.
func (f *Flowchart) commit(w *Flowchart) {
	*f = *w
}

// --- low-level bookkeeping, callers keep the lists consistent ---

func (f *Flowchart) putNode(n *Node) {
	if _, exists := f.nodes[n.ID]; !exists {
		f.nodeOrder = append(f.nodeOrder, n.ID)
	}
	f.nodes[n.ID] = n
}

// putEdge registers e and lists it on both existing endpoints.
func (f *Flowchart) putEdge(e *Edge) {
	if _, exists := f.edges[e.ID]; !exists {
		f.edgeOrder = append(f.edgeOrder, e.ID)
	}
	f.edges[e.ID] = e
	if src, ok := f.nodes[e.Source]; ok && !containsID(src.Outgoing, e.ID) {
		src.Outgoing = append(src.Outgoing, e.ID)
	}
	if tgt, ok := f.nodes[e.Target]; ok && !containsID(tgt.Incoming, e.ID) {
		tgt.Incoming = append(tgt.Incoming, e.ID)
	}
}

// connect creates a new edge with a generated id.
func (f *Flowchart) connect(source, target string, cond Condition) *Edge {
	id := f.newEdgeID()
	for f.edges[id] != nil {
		id = f.newEdgeID()
	}
	e := &Edge{ID: id, Source: source, Target: target, Condition: cond}
	f.putEdge(e)
	return e
}

// hasEdge reports whether an identical connection already exists.
func (f *Flowchart) hasEdge(source, target string, cond Condition) bool {
	for _, e := range f.OutgoingEdges(source) {
		if e.Target == target && e.Condition == cond {
			return true
		}
	}
	return false
}

func (f *Flowchart) dropEdge(id string) {
	e, ok := f.edges[id]
	if !ok {
		return
	}
	if src, ok := f.nodes[e.Source]; ok {
		src.Outgoing = removeID(src.Outgoing, id)
		if src.LoopEdge == id {
			src.LoopEdge = ""
		}
		if src.LoopExitEdge == id {
			src.LoopExitEdge = ""
		}
	}
	if tgt, ok := f.nodes[e.Target]; ok {
		tgt.Incoming = removeID(tgt.Incoming, id)
	}
	delete(f.edges, id)
	f.edgeOrder = removeID(f.edgeOrder, id)
}

// retarget moves the head of an edge to a new node, keeping id and condition.
func (f *Flowchart) retarget(e *Edge, target string) {
	if old, ok := f.nodes[e.Target]; ok {
		old.Incoming = removeID(old.Incoming, e.ID)
	}
	e.Target = target
	if tgt, ok := f.nodes[target]; ok && !containsID(tgt.Incoming, e.ID) {
		tgt.Incoming = append(tgt.Incoming, e.ID)
	}
}

// dropNode deletes a node together with its attached edges, except the
// edges listed in keep, which stay behind dangling for the repair pass.
func (f *Flowchart) dropNode(id string, keep map[string]bool) {
	n, ok := f.nodes[id]
	if !ok {
		return
	}
	attached := append(append([]string(nil), n.Incoming...), n.Outgoing...)
	for _, eid := range attached {
		if keep[eid] {
			continue
		}
		f.dropEdge(eid)
	}
	delete(f.nodes, id)
	f.nodeOrder = removeID(f.nodeOrder, id)
}

// verify enforces the post-conditions every committed state satisfies.
func (f *Flowchart) verify(code string) *schema.FlowError {
	if err := f.CheckConsistency(); err != nil {
		return schema.NewError(code, err.Error()).WithCause(err)
	}
	if !f.Reachable(f.startID, f.endID) {
		return schema.NewErrorf(code, "no path from %s to %s", f.startID, f.endID)
	}
	return nil
}
