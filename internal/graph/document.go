package graph

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// Parse decodes and hydrates a serialized graph.
func Parse(raw []byte, opts ...Option) (*Flowchart, error) {
	doc, err := schema.ParseGraphDocument(raw)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, opts...)
}

// FromDocument hydrates a graph document. Kinds are normalized here once;
// unknown kinds, edges pointing at undefined nodes, node edge lists that do
// not match the edges, bad loop references, a missing Start or End, or a
// missing Start→End path are rejected with GRAPH_INVALID. Nothing is
// repaired.
func FromDocument(doc *schema.GraphDocument, opts ...Option) (*Flowchart, error) {
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeGraphInvalid, "graph document is nil")
	}
	f := newEmpty(opts...)
	if doc.Limits != nil {
		f.Limits = Limits{
			MaxSteps:                 doc.Limits.MaxSteps,
			MaxTimeMs:                doc.Limits.MaxTimeMs,
			MaxLoopIterationsPerNode: doc.Limits.MaxLoopIterationsPerNode,
		}.withDefaults()
	}

	for i, nd := range doc.Nodes {
		if nd.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid, "node at index %d has empty id", i)
		}
		if _, dup := f.nodes[nd.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid, "duplicate node id %s", nd.ID)
		}
		kind, err := ParseKind(nd.Type)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid, "unknown node type %q", nd.Type).
				WithNode(nd.ID).WithCause(err)
		}
		n, err := NewNode(nd.ID, kind, nd.Label, nd.Data)
		if err != nil {
			return nil, err
		}
		if len(nd.Position) > 0 {
			n.Position = append(json.RawMessage(nil), nd.Position...)
		}
		switch kind {
		case KindStart:
			if f.startID != "" {
				return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid, "second start node %s", nd.ID)
			}
			f.startID = nd.ID
		case KindEnd:
			if f.endID != "" {
				return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid, "second end node %s", nd.ID)
			}
			f.endID = nd.ID
		}
		f.putNode(n)
	}

	for i, ed := range doc.Edges {
		e, err := NewEdge(ed.ID, ed.Source, ed.Target, ed.Condition)
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeInvalidCondition) {
				return nil, err
			}
			return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid, "edge at index %d: %s", i, err.Error()).WithCause(err)
		}
		if _, dup := f.edges[e.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid, "duplicate edge id %s", e.ID)
		}
		for _, endpoint := range []string{e.Source, e.Target} {
			if _, ok := f.nodes[endpoint]; !ok {
				f.putNode(&Node{ID: endpoint, Kind: KindPlaceholder, Data: map[string]any{}})
			}
		}
		f.putEdge(e)
	}

	var placeholders []string
	for _, id := range f.nodeOrder {
		if f.nodes[id].Kind == KindPlaceholder {
			placeholders = append(placeholders, id)
		}
	}
	if len(placeholders) > 0 {
		sort.Strings(placeholders)
		return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid,
			"edges reference undefined nodes: %s", strings.Join(placeholders, ", ")).
			WithDetails(map[string]any{"undefined_nodes": placeholders})
	}
	if f.startID == "" {
		return nil, schema.NewError(schema.ErrCodeGraphInvalid, "graph has no start node")
	}
	if f.endID == "" {
		return nil, schema.NewError(schema.ErrCodeGraphInvalid, "graph has no end node")
	}

	for _, nd := range doc.Nodes {
		n := f.nodes[nd.ID]
		var err error
		if n.Incoming, err = f.orderEdgeList(n, nd.IncomingEdgeIDs, n.Incoming, "incoming"); err != nil {
			return nil, err
		}
		if n.Outgoing, err = f.orderEdgeList(n, nd.OutgoingEdgeIDs, n.Outgoing, "outgoing"); err != nil {
			return nil, err
		}
		if err := f.hydrateLoopRefs(n, nd); err != nil {
			return nil, err
		}
	}

	if err := f.verify(schema.ErrCodeGraphInvalid); err != nil {
		return nil, err
	}
	return f, nil
}

// orderEdgeList validates the edge ids a document lists for a node and
// returns them first, followed by any edge the list omitted.
func (f *Flowchart) orderEdgeList(n *Node, listed, actual []string, dir string) ([]string, error) {
	out := make([]string, 0, len(actual))
	for _, id := range listed {
		if !containsID(actual, id) {
			return nil, schema.NewErrorf(schema.ErrCodeGraphInvalid,
				"node lists %s edge %s which does not connect to it", dir, id).WithNode(n.ID)
		}
		out = appendUnique(out, id)
	}
	for _, id := range actual {
		out = appendUnique(out, id)
	}
	return out, nil
}

func (f *Flowchart) hydrateLoopRefs(n *Node, nd schema.NodeDocument) error {
	if !n.Kind.IsLoop() {
		if nd.LoopEdge != "" || nd.LoopExitEdge != "" {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "%s node cannot carry loop edges", n.Kind).WithNode(n.ID)
		}
		return nil
	}
	for _, ref := range []string{nd.LoopEdge, nd.LoopExitEdge} {
		if ref != "" && !containsID(n.Outgoing, ref) {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "loop edge %s is not an outgoing edge", ref).WithNode(n.ID)
		}
	}
	n.LoopEdge, n.LoopExitEdge = nd.LoopEdge, nd.LoopExitEdge
	if n.LoopEdge == "" || n.LoopExitEdge == "" {
		f.assignLoopEdges(n, false)
		if nd.LoopEdge != "" {
			n.LoopEdge = nd.LoopEdge
		}
		if nd.LoopExitEdge != "" {
			n.LoopExitEdge = nd.LoopExitEdge
		}
	}
	if n.LoopEdge == "" || n.LoopExitEdge == "" || n.LoopEdge == n.LoopExitEdge {
		return schema.NewErrorf(schema.ErrCodeGraphInvalid, "%s node needs distinct loop and exit edges", n.Kind).WithNode(n.ID)
	}
	return nil
}

// ToDocument serializes the flowchart with lowercase full kind names.
// Runtime loop state is not part of the document.
func (f *Flowchart) ToDocument() *schema.GraphDocument {
	doc := &schema.GraphDocument{
		Nodes: make([]schema.NodeDocument, 0, len(f.nodeOrder)),
		Edges: make([]schema.EdgeDocument, 0, len(f.edgeOrder)),
		Limits: &schema.LimitsDocument{
			MaxSteps:                 f.Limits.MaxSteps,
			MaxTimeMs:                f.Limits.MaxTimeMs,
			MaxLoopIterationsPerNode: f.Limits.MaxLoopIterationsPerNode,
		},
	}
	for _, n := range f.Nodes() {
		nd := schema.NodeDocument{
			ID:              n.ID,
			Type:            string(n.Kind),
			Label:           n.Label,
			Data:            copyMap(n.Data),
			IncomingEdgeIDs: append([]string(nil), n.Incoming...),
			OutgoingEdgeIDs: append([]string(nil), n.Outgoing...),
			LoopEdge:        n.LoopEdge,
			LoopExitEdge:    n.LoopExitEdge,
		}
		if len(n.Position) > 0 {
			nd.Position = append(json.RawMessage(nil), n.Position...)
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	for _, e := range f.Edges() {
		doc.Edges = append(doc.Edges, schema.EdgeDocument{
			ID: e.ID, Source: e.Source, Target: e.Target, Condition: string(e.Condition),
		})
	}
	return doc
}

// MarshalJSON encodes the flowchart as a graph document.
func (f *Flowchart) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToDocument())
}
