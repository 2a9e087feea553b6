// Package store persists flowcharts, interactive execution snapshots, lab
// testcases, grading sessions and the trace event log.
package store

import (
	"context"
	"time"

	"github.com/rendis/flowlab/pkg/schema"
)

// Store is the persistence boundary for flowlab.
type Store interface {
	// Flowcharts
	SaveFlowchart(ctx context.Context, fc *FlowchartRecord) error
	GetFlowchart(ctx context.Context, id string) (*FlowchartRecord, error)
	ListFlowcharts(ctx context.Context, filter FlowchartFilter) ([]*FlowchartRecord, error)
	DeleteFlowchart(ctx context.Context, id string) error

	// Execution snapshots
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
	PurgeSnapshots(ctx context.Context, olderThan time.Time) (int64, error)

	// Testcases
	PutTestcases(ctx context.Context, labID string, tcs []schema.Testcase) error
	ListTestcases(ctx context.Context, labID string) ([]schema.Testcase, error)

	// Test sessions
	SaveTestSession(ctx context.Context, session *schema.TestSession) error
	GetTestSession(ctx context.Context, id string) (*schema.TestSession, error)
	ListTestSessions(ctx context.Context, filter SessionFilter) ([]*schema.TestSession, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
