package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowlab/pkg/schema"
)

// FlowchartRecord is a stored graph document.
type FlowchartRecord struct {
	ID        string                `json:"id"`
	Name      string                `json:"name,omitempty"`
	Document  *schema.GraphDocument `json:"document"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// FlowchartFilter specifies criteria for listing flowcharts.
type FlowchartFilter struct {
	Limit  int
	Offset int
}

// Snapshot is the persisted executor state of an interactive session.
type Snapshot struct {
	SessionID   string                 `json:"session_id"`
	FlowchartID string                 `json:"flowchart_id,omitempty"`
	Status      schema.ExecutionStatus `json:"status"`
	State       json.RawMessage        `json:"state"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// SessionFilter specifies criteria for listing grading sessions.
type SessionFilter struct {
	FlowchartID string
	LabID       string
	Since       *time.Time
	Limit       int
}

// Event is a persisted trace event.
type Event struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	NodeID     string          `json:"node_id,omitempty"`
	TestcaseID string          `json:"testcase_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}
