package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rendis/flowlab/pkg/schema"
)

// MemoryStore is an in-process Store. Values are deep-copied through JSON on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	flowcharts map[string][]byte
	meta       map[string]FlowchartRecord
	snapshots  map[string]Snapshot
	testcases  map[string][]schema.Testcase
	sessions   map[string][]byte
	events     map[string][]*Event
	nextEvent  int64
	now        func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flowcharts: make(map[string][]byte),
		meta:       make(map[string]FlowchartRecord),
		snapshots:  make(map[string]Snapshot),
		testcases:  make(map[string][]schema.Testcase),
		sessions:   make(map[string][]byte),
		events:     make(map[string][]*Event),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Migrate(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }

// --- Flowcharts ---

func (m *MemoryStore) SaveFlowchart(ctx context.Context, fc *FlowchartRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fc.Document == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "flowchart %q has no document", fc.ID)
	}
	raw, err := json.Marshal(fc.Document)
	if err != nil {
		return storeErr(err, "marshal document")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if prev, ok := m.meta[fc.ID]; ok {
		fc.CreatedAt = prev.CreatedAt
	}
	fc.CreatedAt = timeOr(fc.CreatedAt, now)
	fc.UpdatedAt = now
	m.flowcharts[fc.ID] = raw
	m.meta[fc.ID] = FlowchartRecord{ID: fc.ID, Name: fc.Name, CreatedAt: fc.CreatedAt, UpdatedAt: fc.UpdatedAt}
	return nil
}

func (m *MemoryStore) GetFlowchart(ctx context.Context, id string) (*FlowchartRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flowchartLocked(id)
}

func (m *MemoryStore) flowchartLocked(id string) (*FlowchartRecord, error) {
	raw, ok := m.flowcharts[id]
	if !ok {
		return nil, storeNotFound("flowchart", id)
	}
	doc, err := schema.ParseGraphDocument(raw)
	if err != nil {
		return nil, storeErr(err, "decode flowchart")
	}
	rec := m.meta[id]
	rec.Document = doc
	return &rec, nil
}

func (m *MemoryStore) ListFlowcharts(ctx context.Context, filter FlowchartFilter) ([]*FlowchartRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.meta))
	for id := range m.meta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.meta[ids[i]], m.meta[ids[j]]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	ids = page(ids, filter.Limit, filter.Offset)

	out := make([]*FlowchartRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := m.flowchartLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryStore) DeleteFlowchart(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flowcharts[id]; !ok {
		return storeNotFound("flowchart", id)
	}
	delete(m.flowcharts, id)
	delete(m.meta, id)
	return nil
}

// --- Execution snapshots ---

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(snap.State) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "snapshot %q has no state", snap.SessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.UpdatedAt = timeOr(snap.UpdatedAt, m.now())
	cp := *snap
	cp.State = append(json.RawMessage(nil), snap.State...)
	m.snapshots[snap.SessionID] = cp
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[sessionID]
	if !ok {
		return nil, storeNotFound("snapshot", sessionID)
	}
	snap.State = append(json.RawMessage(nil), snap.State...)
	return &snap, nil
}

func (m *MemoryStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[sessionID]; !ok {
		return storeNotFound("snapshot", sessionID)
	}
	delete(m.snapshots, sessionID)
	return nil
}

func (m *MemoryStore) PurgeSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, snap := range m.snapshots {
		if snap.UpdatedAt.Before(olderThan) {
			delete(m.snapshots, id)
			n++
		}
	}
	return n, nil
}

// --- Testcases ---

func (m *MemoryStore) PutTestcases(ctx context.Context, labID string, tcs []schema.Testcase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]schema.Testcase, len(tcs))
	for i, tc := range tcs {
		tc.LabID = labID
		cp[i] = tc
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testcases[labID] = cp
	return nil
}

func (m *MemoryStore) ListTestcases(ctx context.Context, labID string) ([]schema.Testcase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tcs, ok := m.testcases[labID]
	if !ok || len(tcs) == 0 {
		return nil, storeNotFound("lab", labID)
	}
	return append([]schema.Testcase(nil), tcs...), nil
}

// --- Test sessions ---

func (m *MemoryStore) SaveTestSession(ctx context.Context, session *schema.TestSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return storeErr(err, "marshal session")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = raw
	return nil
}

func (m *MemoryStore) GetTestSession(ctx context.Context, id string) (*schema.TestSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	raw, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("test session", id)
	}
	return decodeSession(string(raw))
}

func (m *MemoryStore) ListTestSessions(ctx context.Context, filter SessionFilter) ([]*schema.TestSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []*schema.TestSession
	for _, raw := range m.sessions {
		ts, err := decodeSession(string(raw))
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if filter.FlowchartID != "" && ts.FlowchartID != filter.FlowchartID {
			continue
		}
		if filter.LabID != "" && ts.LabID != filter.LabID {
			continue
		}
		if filter.Since != nil && ts.StartedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, ts)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Limit, 0), nil
}

// --- Events ---

func (m *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvent++
	event.ID = m.nextEvent
	event.Sequence = int64(len(m.events[event.SessionID]) + 1)
	event.Timestamp = timeOr(event.Timestamp, m.now())
	cp := *event
	m.events[event.SessionID] = append(m.events[event.SessionID], &cp)
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, e := range m.events[sessionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
