package graph

// repair restores the structural invariants after a removal:
//   - edges with a missing endpoint are dropped; a loop node losing its exit
//     edge without an alternative gets a fresh exit edge to End first;
//   - loop and loop-exit references are recomputed for every loop node;
//   - Start regains the canonical edge to End when it has no successor.
func (f *Flowchart) repair() {
	for _, id := range append([]string(nil), f.edgeOrder...) {
		e := f.edges[id]
		src, srcOK := f.nodes[e.Source]
		_, tgtOK := f.nodes[e.Target]
		if srcOK && tgtOK {
			continue
		}
		if srcOK && src.Kind.IsLoop() && src.LoopExitEdge == id && !f.hasAlternativeExit(src, id) {
			f.connect(src.ID, f.endID, src.Kind.ExitCondition())
		}
		f.dropEdge(id)
	}

	for _, n := range f.nodes {
		n.Incoming = f.liveEdgeIDs(n.Incoming)
		n.Outgoing = f.liveEdgeIDs(n.Outgoing)
	}

	for _, id := range f.nodeOrder {
		if n := f.nodes[id]; n.Kind.IsLoop() {
			f.dedupeLoopEdges(n)
			f.assignLoopEdges(n, true)
		}
	}

	if start := f.nodes[f.startID]; start != nil && len(start.Outgoing) == 0 {
		if _, taken := f.edges[StartEndEdgeID]; taken {
			f.connect(f.startID, f.endID, CondAuto)
		} else {
			f.putEdge(&Edge{ID: StartEndEdgeID, Source: f.startID, Target: f.endID, Condition: CondAuto})
		}
	}
}

func (f *Flowchart) liveEdgeIDs(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := f.edges[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (f *Flowchart) hasAlternativeExit(n *Node, except string) bool {
	exit := n.Kind.ExitCondition()
	for _, e := range f.OutgoingEdges(n.ID) {
		if e.ID == except || e.Target == n.ID {
			continue
		}
		if _, ok := f.nodes[e.Target]; !ok {
			continue
		}
		if e.Condition == exit || e.Condition == CondAuto {
			return true
		}
	}
	return false
}

// loopRole classifies an outgoing loop edge: 1 body, 2 exit, 0 other.
func loopRole(n *Node, e *Edge) int {
	switch e.Condition {
	case n.Kind.BodyCondition():
		return 1
	case n.Kind.ExitCondition():
		return 2
	}
	return 0
}

// dedupeLoopEdges drops later edges that duplicate an earlier edge of the
// same role to the same target, keeping the one referenced by the node.
func (f *Flowchart) dedupeLoopEdges(n *Node) {
	type key struct {
		target string
		role   int
	}
	first := map[key]string{}
	for _, e := range f.OutgoingEdges(n.ID) {
		k := key{e.Target, loopRole(n, e)}
		prev, dup := first[k]
		if !dup {
			first[k] = e.ID
			continue
		}
		if referenced(n, e.ID) && !referenced(n, prev) {
			f.dropEdge(prev)
			first[k] = e.ID
			continue
		}
		f.dropEdge(e.ID)
	}
}

func referenced(n *Node, edgeID string) bool {
	return n.LoopEdge == edgeID || n.LoopExitEdge == edgeID
}

// assignLoopEdges picks LoopEdge and LoopExitEdge from the outgoing edges,
// preferring canonical conditions. With synthesize set, a missing self-loop
// body edge or exit edge to End is created. It reports whether both
// references ended up set.
func (f *Flowchart) assignLoopEdges(n *Node, synthesize bool) bool {
	body, exit := n.Kind.BodyCondition(), n.Kind.ExitCondition()

	pick := func(current string, want Condition, exclude string, allowSelf bool) string {
		outs := f.OutgoingEdges(n.ID)
		usable := func(e *Edge) bool {
			return e.ID != exclude && (allowSelf || e.Target != n.ID)
		}
		if e, ok := f.edges[current]; ok && e.Source == n.ID && usable(e) && e.Condition == want {
			return current
		}
		for _, e := range outs {
			if usable(e) && e.Condition == want {
				return e.ID
			}
		}
		if e, ok := f.edges[current]; ok && e.Source == n.ID && usable(e) && loopRole(n, e) == 0 {
			return current
		}
		for _, e := range outs {
			if usable(e) && loopRole(n, e) == 0 {
				return e.ID
			}
		}
		return ""
	}

	n.LoopEdge = pick(n.LoopEdge, body, "", true)
	if n.LoopEdge == "" && synthesize {
		n.LoopEdge = f.connect(n.ID, n.ID, body).ID
	}
	n.LoopExitEdge = pick(n.LoopExitEdge, exit, n.LoopEdge, false)
	if n.LoopExitEdge == "" && synthesize {
		n.LoopExitEdge = f.connect(n.ID, f.endID, exit).ID
	}
	return n.LoopEdge != "" && n.LoopExitEdge != ""
}
