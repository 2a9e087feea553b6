package graph

import (
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// NodeKind is the closed set of flowchart node variants.
type NodeKind string

const (
	KindStart       NodeKind = "start"
	KindEnd         NodeKind = "end"
	KindDeclare     NodeKind = "declare"
	KindAssign      NodeKind = "assign"
	KindIf          NodeKind = "if"
	KindFor         NodeKind = "for"
	KindWhile       NodeKind = "while"
	KindInput       NodeKind = "input"
	KindOutput      NodeKind = "output"
	KindBreakpoint  NodeKind = "breakpoint"
	KindDo          NodeKind = "do"
	KindPlaceholder NodeKind = "placeholder"
)

// AllKinds lists the user-visible kinds in canonical order.
var AllKinds = []NodeKind{
	KindStart, KindEnd, KindDeclare, KindAssign, KindIf, KindFor,
	KindWhile, KindInput, KindOutput, KindBreakpoint, KindDo,
}

var kindCodes = map[string]NodeKind{
	"ST": KindStart,
	"EN": KindEnd,
	"DC": KindDeclare,
	"AS": KindAssign,
	"IF": KindIf,
	"FR": KindFor,
	"WH": KindWhile,
	"IN": KindInput,
	"OU": KindOutput,
	"BP": KindBreakpoint,
	"DO": KindDo,
}

var codeOfKind = func() map[NodeKind]string {
	m := make(map[NodeKind]string, len(kindCodes))
	for code, k := range kindCodes {
		m[k] = code
	}
	return m
}()

// ParseKind normalizes an external type string into a NodeKind. Short codes
// are matched exactly (upper case) and full names case-insensitively.
// Placeholder is never accepted from the outside.
func ParseKind(s string) (NodeKind, error) {
	trimmed := strings.TrimSpace(s)
	if k, ok := kindCodes[strings.ToUpper(trimmed)]; ok {
		return k, nil
	}
	name := NodeKind(strings.ToLower(trimmed))
	for _, k := range AllKinds {
		if k == name {
			return k, nil
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeGraphInvalid, "unknown node type %q", s)
}

// Code returns the short external code of the kind ("" for Placeholder).
func (k NodeKind) Code() string {
	return codeOfKind[k]
}

// IsLoop reports whether the kind owns a loop edge and a loop-exit edge.
func (k NodeKind) IsLoop() bool {
	return k == KindFor || k == KindWhile
}

// IsBranching reports whether outgoing edge conditions carry branch meaning.
func (k NodeKind) IsBranching() bool {
	return k == KindIf || k.IsLoop()
}

// Structural reports whether the kind is one of the fixed Start/End anchors.
func (k NodeKind) Structural() bool {
	return k == KindStart || k == KindEnd
}

// BodyCondition is the canonical loop-edge condition of a loop kind.
func (k NodeKind) BodyCondition() Condition {
	if k == KindFor {
		return CondNext
	}
	return CondTrue
}

// ExitCondition is the canonical loop-exit condition of a loop kind.
func (k NodeKind) ExitCondition() Condition {
	if k == KindFor {
		return CondDone
	}
	return CondFalse
}
