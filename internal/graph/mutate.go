package graph

import (
	"github.com/rendis/flowlab/pkg/schema"
)

// BreakpointIDFor returns the id of the synthetic Breakpoint paired with an If.
func BreakpointIDFor(ifID string) string {
	return "bp_" + ifID
}

// InsertNodeAtEdge splits an edge: the edge keeps its id and condition but now
// targets node, and node is wired onward to the old target according to its
// kind. A non-empty label overrides the node label. On error the flowchart is
// unchanged. The node value is copied; look it up by id afterwards.
func (f *Flowchart) InsertNodeAtEdge(edgeID string, node *Node, label string) error {
	if node == nil {
		return schema.NewError(schema.ErrCodeMutationFailed, "node is required")
	}
	if _, ok := f.edges[edgeID]; !ok {
		return schema.NewErrorf(schema.ErrCodeMutationFailed, "edge %s not found", edgeID)
	}
	if node.Kind.Structural() || node.Kind == KindPlaceholder {
		return schema.NewErrorf(schema.ErrCodeMutationFailed, "cannot insert a %s node", node.Kind).WithNode(node.ID)
	}
	if _, exists := f.nodes[node.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeMutationFailed, "node %s already exists", node.ID).WithNode(node.ID)
	}
	if err := node.Validate(); err != nil {
		return err
	}
	bpID := BreakpointIDFor(node.ID)
	if node.Kind == KindIf {
		if _, exists := f.nodes[bpID]; exists {
			return schema.NewErrorf(schema.ErrCodeMutationFailed, "node %s already exists", bpID).WithNode(node.ID)
		}
	}

	w := f.Clone()
	n := node.clone()
	n.Incoming, n.Outgoing = nil, nil
	n.LoopEdge, n.LoopExitEdge = "", ""
	n.Loop = nil
	if label != "" {
		n.Label = label
	}

	split := w.edges[edgeID]
	oldTarget := split.Target
	w.putNode(n)
	w.retarget(split, n.ID)

	switch {
	case n.Kind == KindIf:
		w.putNode(&Node{ID: bpID, Kind: KindBreakpoint, Label: "Breakpoint", Data: map[string]any{}})
		w.connect(n.ID, bpID, CondTrue)
		w.connect(n.ID, bpID, CondFalse)
		w.connect(bpID, oldTarget, CondAuto)
	case n.Kind.IsLoop():
		n.LoopEdge = w.connect(n.ID, n.ID, n.Kind.BodyCondition()).ID
		n.LoopExitEdge = w.connect(n.ID, oldTarget, n.Kind.ExitCondition()).ID
	default:
		w.connect(n.ID, oldTarget, CondAuto)
	}

	if err := w.verify(schema.ErrCodeMutationFailed); err != nil {
		return err
	}
	f.commit(w)
	return nil
}

// RemoveNode deletes a node and rewires its neighbours so the flowchart stays
// consistent and Start still reaches End. Start and End cannot be removed
// (no-op). If removes its paired Breakpoint and orphaned branch nodes too;
// For/While remove their whole body. On error the flowchart is unchanged.
func (f *Flowchart) RemoveNode(id string) error {
	n, ok := f.nodes[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeMutationFailed, "node %s not found", id)
	}
	if n.Kind.Structural() {
		return nil
	}

	w := f.Clone()
	switch {
	case n.Kind == KindIf:
		w.removeIf(id)
	case n.Kind.IsLoop():
		w.removeLoop(id)
	default:
		w.rewireAndDrop([]string{id}, w.targetsOf(id, map[string]bool{id: true}))
	}
	w.repair()

	if err := w.verify(schema.ErrCodeMutationFailed); err != nil {
		return err.WithNode(id)
	}
	f.commit(w)
	return nil
}

// pairedBreakpoint returns the synthetic Breakpoint fed by the If node.
func (f *Flowchart) pairedBreakpoint(ifID string) (*Node, bool) {
	bp, ok := f.nodes[BreakpointIDFor(ifID)]
	if !ok || bp.Kind != KindBreakpoint {
		return nil, false
	}
	for _, e := range f.IncomingEdges(bp.ID) {
		if e.Source == ifID {
			return bp, true
		}
	}
	return nil, false
}

// removeIf drops the If, its paired Breakpoint and the branch nodes between
// them that nothing else keeps reachable from Start.
func (f *Flowchart) removeIf(id string) {
	doomed := []string{id}
	from := id
	var branches []string
	if bp, ok := f.pairedBreakpoint(id); ok {
		doomed = append(doomed, bp.ID)
		from = bp.ID
		branches = f.CollectLoopBody(id, nil, []string{bp.ID})
	}
	f.rewireAndDrop(doomed, f.targetsOf(from, toSet(doomed)))

	for _, bid := range branches {
		if !f.Reachable(f.startID, bid) {
			f.dropNode(bid, nil)
		}
	}
}

func (f *Flowchart) removeLoop(id string) {
	n := f.nodes[id]
	var exitEdges []string
	if e, ok := f.edges[n.LoopExitEdge]; ok && e.Source == id {
		exitEdges = append(exitEdges, e.ID)
	} else {
		for _, e := range f.OutgoingEdges(id) {
			if e.Target == id || e.ID == n.LoopEdge {
				continue
			}
			switch e.Condition {
			case CondFalse, CondDone, CondAuto:
				exitEdges = append(exitEdges, e.ID)
			}
		}
	}

	var targets []string
	for _, eid := range exitEdges {
		targets = appendUnique(targets, f.edges[eid].Target)
	}
	body := f.CollectLoopBody(id, exitEdges, targets)
	f.rewireAndDrop(append([]string{id}, body...), targets)
}

// targetsOf returns the distinct successors of a node outside doomed.
func (f *Flowchart) targetsOf(id string, doomed map[string]bool) []string {
	var out []string
	for _, e := range f.OutgoingEdges(id) {
		if doomed[e.Target] {
			continue
		}
		out = appendUnique(out, e.Target)
	}
	return out
}

// rewireAndDrop reconnects every outside source feeding a doomed node to each
// target (End when there is none), then deletes the doomed nodes. The feeding
// edge itself is reused for the first target so its id survives. Edges owned
// by a surviving loop node that could not be reused are left for the repair
// pass.
func (f *Flowchart) rewireAndDrop(doomed []string, targets []string) {
	dead := toSet(doomed)
	var live []string
	for _, t := range targets {
		if !dead[t] {
			live = appendUnique(live, t)
		}
	}
	if len(live) == 0 {
		live = []string{f.endID}
	}

	keep := map[string]bool{}
	for _, id := range doomed {
		for _, in := range f.IncomingEdges(id) {
			if dead[in.Source] {
				continue
			}
			src := f.nodes[in.Source]
			cond := CondAuto
			if src.Kind.IsBranching() {
				cond = in.Condition
			}
			reused := false
			for _, t := range live {
				if f.hasEdge(src.ID, t, cond) {
					continue
				}
				if !reused {
					in.Condition = cond
					f.retarget(in, t)
					reused = true
					continue
				}
				f.connect(src.ID, t, cond)
			}
			if !reused && referenced(src, in.ID) {
				keep[in.ID] = true
			}
		}
	}
	for _, id := range doomed {
		f.dropNode(id, keep)
	}
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func appendUnique(ids []string, id string) []string {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}
