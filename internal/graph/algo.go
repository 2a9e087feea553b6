package graph

import (
	"fmt"

	"github.com/rendis/flowlab/pkg/schema"
)

// Reachable reports whether a path from one node to another exists following
// outgoing edges (breadth-first).
func (f *Flowchart) Reachable(from, to string) bool {
	if _, ok := f.nodes[from]; !ok {
		return false
	}
	if _, ok := f.nodes[to]; !ok {
		return false
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, e := range f.OutgoingEdges(cur) {
			if _, ok := f.nodes[e.Target]; !ok || visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			queue = append(queue, e.Target)
		}
	}
	return false
}

// CollectLoopBody returns the nodes forming the body of a loop node: every
// node reachable from the loop's successors through outgoing edges, without
// passing through the loop node itself, a stop node, Start or End. Entry
// points reached through the given exit edges are not followed. The result
// keeps discovery order.
func (f *Flowchart) CollectLoopBody(loopID string, exitEdges []string, stops []string) []string {
	stop := map[string]bool{loopID: true, f.startID: true, f.endID: true}
	for _, s := range stops {
		stop[s] = true
	}
	isExit := make(map[string]bool, len(exitEdges))
	for _, id := range exitEdges {
		isExit[id] = true
	}

	var body []string
	seen := map[string]bool{}
	var work []string
	for _, e := range f.OutgoingEdges(loopID) {
		if isExit[e.ID] {
			continue
		}
		work = append(work, e.Target)
	}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if stop[cur] || seen[cur] {
			continue
		}
		if _, ok := f.nodes[cur]; !ok {
			continue
		}
		seen[cur] = true
		body = append(body, cur)
		outs := f.OutgoingEdges(cur)
		for i := len(outs) - 1; i >= 0; i-- {
			work = append(work, outs[i].Target)
		}
	}
	return body
}

// CheckConsistency verifies the bidirectional node/edge bookkeeping: every
// listed edge id resolves to an edge whose endpoint is the listing node, every
// edge is listed by both endpoints, and loop edge references are outgoing
// edges of their owner.
func (f *Flowchart) CheckConsistency() error {
	if n, ok := f.nodes[f.startID]; !ok || n.Kind != KindStart {
		return schema.NewError(schema.ErrCodeGraphInvalid, "missing start node")
	}
	if n, ok := f.nodes[f.endID]; !ok || n.Kind != KindEnd {
		return schema.NewError(schema.ErrCodeGraphInvalid, "missing end node")
	}
	if len(f.nodeOrder) != len(f.nodes) || len(f.edgeOrder) != len(f.edges) {
		return schema.NewError(schema.ErrCodeGraphInvalid, "ordering index out of sync")
	}

	for _, id := range f.nodeOrder {
		n := f.nodes[id]
		if n == nil {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "ordering lists unknown node %s", id)
		}
		if err := checkList(f, n, n.Incoming, func(e *Edge) string { return e.Target }, "incoming"); err != nil {
			return err
		}
		if err := checkList(f, n, n.Outgoing, func(e *Edge) string { return e.Source }, "outgoing"); err != nil {
			return err
		}
		if !n.Kind.IsLoop() {
			if n.LoopEdge != "" || n.LoopExitEdge != "" {
				return schema.NewErrorf(schema.ErrCodeGraphInvalid, "%s node carries loop edge references", n.Kind).WithNode(id)
			}
			continue
		}
		for _, ref := range []string{n.LoopEdge, n.LoopExitEdge} {
			if ref != "" && !containsID(n.Outgoing, ref) {
				return schema.NewErrorf(schema.ErrCodeGraphInvalid, "loop edge %s is not an outgoing edge", ref).WithNode(id)
			}
		}
	}

	for _, id := range f.edgeOrder {
		e := f.edges[id]
		if e == nil {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "ordering lists unknown edge %s", id)
		}
		src, ok := f.nodes[e.Source]
		if !ok || !containsID(src.Outgoing, id) {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "edge %s is not listed by its source %s", id, e.Source)
		}
		tgt, ok := f.nodes[e.Target]
		if !ok || !containsID(tgt.Incoming, id) {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "edge %s is not listed by its target %s", id, e.Target)
		}
	}
	return nil
}

func checkList(f *Flowchart, n *Node, ids []string, endpoint func(*Edge) string, dir string) error {
	seen := make(map[string]bool, len(ids))
	for _, eid := range ids {
		if seen[eid] {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "%s edge %s listed twice", dir, eid).WithNode(n.ID)
		}
		seen[eid] = true
		e, ok := f.edges[eid]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeGraphInvalid, "%s edge %s does not exist", dir, eid).WithNode(n.ID)
		}
		if endpoint(e) != n.ID {
			return schema.NewError(schema.ErrCodeGraphInvalid,
				fmt.Sprintf("%s edge %s does not point at node", dir, eid)).WithNode(n.ID)
		}
	}
	return nil
}
