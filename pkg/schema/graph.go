package schema

import "encoding/json"

// GraphDocument is the serialized flowchart exchanged with storage collaborators.
type GraphDocument struct {
	Nodes  []NodeDocument  `json:"nodes"`
	Edges  []EdgeDocument  `json:"edges"`
	Limits *LimitsDocument `json:"limits,omitempty"`
}

// NodeDocument is one serialized node. Type accepts short codes (ST, EN, DC,
// AS, IF, FR, WH, IN, OU, BP, DO) or case-insensitive full names.
type NodeDocument struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Label           string          `json:"label,omitempty"`
	Data            map[string]any  `json:"data,omitempty"`
	Position        json.RawMessage `json:"position,omitempty"`
	IncomingEdgeIDs []string        `json:"incomingEdgeIds,omitempty"`
	OutgoingEdgeIDs []string        `json:"outgoingEdgeIds,omitempty"`
	LoopEdge        string          `json:"loopEdge,omitempty"`
	LoopExitEdge    string          `json:"loopExitEdge,omitempty"`
}

// EdgeDocument is one serialized control-flow edge.
type EdgeDocument struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// LimitsDocument carries the execution limits of a flowchart. Zero values mean
// "use the engine default".
type LimitsDocument struct {
	MaxSteps                 int   `json:"maxSteps,omitempty"`
	MaxTimeMs                int64 `json:"maxTimeMs,omitempty"`
	MaxLoopIterationsPerNode int   `json:"maxLoopIterationsPerNode,omitempty"`
}

// ParseGraphDocument decodes a serialized graph.
func ParseGraphDocument(raw []byte) (*GraphDocument, error) {
	var doc GraphDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, NewErrorf(ErrCodeGraphInvalid, "malformed graph document: %s", err.Error()).WithCause(err)
	}
	return &doc, nil
}
