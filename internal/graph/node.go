package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// LoopRuntimeState is the transient per-execution state of a For/While node.
type LoopRuntimeState struct {
	Initialized bool   `json:"initialized"`
	Phase       string `json:"phase,omitempty"`
	LoopCount   int    `json:"loopCount"`
	ScopePushed bool   `json:"scopePushed,omitempty"`
	InitValue   any    `json:"initValue,omitempty"`
}

// Clone returns a copy of the loop state.
func (s *LoopRuntimeState) Clone() *LoopRuntimeState {
	if s == nil {
		return nil
	}
	c := *s
	c.InitValue = copyValue(s.InitValue)
	return &c
}

// Node is one vertex of a flowchart.
type Node struct {
	ID       string
	Kind     NodeKind
	Label    string
	Data     map[string]any
	Position json.RawMessage

	Incoming []string
	Outgoing []string

	// Set only on loop kinds.
	LoopEdge     string
	LoopExitEdge string
	Loop         *LoopRuntimeState
}

// requiredKeys lists, per kind, groups of payload keys of which at least one
// must be present and non-empty.
var requiredKeys = map[NodeKind][][]string{
	KindDeclare: {{"name"}},
	KindAssign:  {{"variable"}},
	KindIf:      {{"condition"}},
	KindFor:     {{"condition"}},
	KindWhile:   {{"condition"}},
	KindInput:   {{"variable"}},
	KindOutput:  {{"message", "expression"}},
}

// NewNode builds a node, rejecting missing required payload keys with
// NODE_VALIDATION. The payload map is copied.
func NewNode(id string, kind NodeKind, label string, data map[string]any) (*Node, error) {
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeNodeValidation, "node id is required")
	}
	if kind == "" {
		return nil, schema.NewError(schema.ErrCodeNodeValidation, "node kind is required").WithNode(id)
	}
	n := &Node{
		ID:    id,
		Kind:  kind,
		Label: label,
		Data:  copyMap(data),
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks the kind-specific payload.
func (n *Node) Validate() error {
	for _, group := range requiredKeys[n.Kind] {
		found := false
		for _, key := range group {
			if hasValue(n.Data[key]) {
				found = true
				break
			}
		}
		if !found {
			return schema.NewErrorf(schema.ErrCodeNodeValidation,
				"%s node requires %s", n.Kind, strings.Join(group, " or ")).
				WithNode(n.ID).
				WithDetails(map[string]any{"kind": string(n.Kind), "keys": group})
		}
	}
	return nil
}

// Str returns the payload value under key rendered as a string, "" if absent.
func (n *Node) Str(key string) string {
	v, ok := n.Data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether the payload carries a non-empty value under key.
func (n *Node) Has(key string) bool {
	return hasValue(n.Data[key])
}

// Ref returns the wire reference of the node.
func (n *Node) Ref() *schema.NodeRef {
	return &schema.NodeRef{ID: n.ID, Kind: string(n.Kind), Label: n.Label}
}

func (n *Node) clone() *Node {
	c := *n
	c.Data = copyMap(n.Data)
	if n.Position != nil {
		c.Position = append(json.RawMessage(nil), n.Position...)
	}
	c.Incoming = append([]string(nil), n.Incoming...)
	c.Outgoing = append([]string(nil), n.Outgoing...)
	c.Loop = n.Loop.Clone()
	return &c
}

func hasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
