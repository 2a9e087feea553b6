package service

import (
	"context"
	"strings"

	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

// InsertRequest places a new node on an edge of a stored flowchart.
type InsertRequest struct {
	FlowchartID string         `json:"flowchartId"`
	EdgeID      string         `json:"edgeId"`
	NodeID      string         `json:"nodeId,omitempty"`
	Kind        string         `json:"kind"`
	Label       string         `json:"label,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// MutationResult is the flowchart after a successful mutation.
type MutationResult struct {
	FlowchartID string                `json:"flowchartId"`
	NodeID      string                `json:"nodeId"`
	Document    *schema.GraphDocument `json:"document"`
	Usage       map[string]int        `json:"usage"`
}

// InsertNode applies InsertNodeAtEdge to a stored flowchart. The whole graph
// is saved only when the mutation succeeds; a failed mutation leaves the
// stored flowchart untouched.
func (s *Service) InsertNode(ctx context.Context, req InsertRequest) (*MutationResult, error) {
	kind, err := graph.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if kind == graph.KindStart || kind == graph.KindEnd {
		return nil, schema.NewErrorf(schema.ErrCodeMutationFailed, "cannot insert a %s node", kind)
	}
	ctx = logging.WithFlowchartID(ctx, req.FlowchartID)

	f, err := s.graphs.Load(ctx, req.FlowchartID)
	if err != nil {
		return nil, err
	}
	usage := f.Usage()
	if err := s.quota.Check(usage, kind); err != nil {
		return nil, err
	}
	if kind == graph.KindIf {
		// The If brings its paired Breakpoint along.
		if err := s.quota.Check(usage, graph.KindBreakpoint); err != nil {
			return nil, err
		}
	}

	id := req.NodeID
	if id == "" {
		id = strings.ToLower(kind.Code()) + "_" + strings.ReplaceAll(s.newID(), "-", "")[:8]
	}
	n, err := graph.NewNode(id, kind, req.Label, req.Data)
	if err != nil {
		return nil, err
	}
	if err := f.InsertNodeAtEdge(req.EdgeID, n, ""); err != nil {
		return nil, err
	}
	return s.commit(ctx, req.FlowchartID, id, "insert", f)
}

// RemoveNode applies RemoveNode to a stored flowchart and saves the result.
func (s *Service) RemoveNode(ctx context.Context, flowchartID, nodeID string) (*MutationResult, error) {
	ctx = logging.WithFlowchartID(ctx, flowchartID)
	f, err := s.graphs.Load(ctx, flowchartID)
	if err != nil {
		return nil, err
	}
	if _, ok := f.Node(nodeID); !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", nodeID)
	}
	if err := f.RemoveNode(nodeID); err != nil {
		return nil, err
	}
	return s.commit(ctx, flowchartID, nodeID, "remove", f)
}

func (s *Service) commit(ctx context.Context, flowchartID, nodeID, op string, f *graph.Flowchart) (*MutationResult, error) {
	if err := s.graphs.Save(ctx, flowchartID, f); err != nil {
		return nil, err
	}
	ctx = logging.WithNodeID(ctx, nodeID)
	_ = s.hub.Publish(ctx, streaming.StreamEvent{
		SessionID: flowchartID,
		NodeID:    nodeID,
		EventType: schema.EventGraphMutated,
		Payload:   map[string]any{"op": op, "nodes": f.NodeCount(), "edges": f.EdgeCount()},
	})
	s.logger.InfoContext(ctx, "graph mutated", "op", op, "nodes", f.NodeCount())
	return &MutationResult{
		FlowchartID: flowchartID,
		NodeID:      nodeID,
		Document:    f.ToDocument(),
		Usage:       usageMap(f.Usage()),
	}, nil
}
