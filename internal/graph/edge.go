package graph

import (
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// Condition labels an edge with the branch it represents.
type Condition string

const (
	CondAuto  Condition = "auto"
	CondTrue  Condition = "true"
	CondFalse Condition = "false"
	CondNext  Condition = "next"
	CondDone  Condition = "done"
)

// ParseCondition validates an edge condition. An empty string reads as auto.
func ParseCondition(s string) (Condition, error) {
	switch c := Condition(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CondAuto, nil
	case CondAuto, CondTrue, CondFalse, CondNext, CondDone:
		return c, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeInvalidCondition, "invalid edge condition %q", s)
}

// Edge is a directed control-flow connection between two nodes.
type Edge struct {
	ID        string
	Source    string
	Target    string
	Condition Condition
}

// NewEdge builds an edge, rejecting unknown conditions with INVALID_CONDITION.
func NewEdge(id, source, target, condition string) (*Edge, error) {
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeGraphInvalid, "edge id is required")
	}
	cond, err := ParseCondition(condition)
	if err != nil {
		if fe, ok := err.(*schema.FlowError); ok {
			fe.Details = map[string]any{"edge_id": id}
		}
		return nil, err
	}
	return &Edge{ID: id, Source: source, Target: target, Condition: cond}, nil
}

func (e *Edge) clone() *Edge {
	c := *e
	return &c
}
