package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowlab/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowlab.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Flowcharts ---

func (s *LibSQLStore) SaveFlowchart(ctx context.Context, fc *FlowchartRecord) error {
	if fc.Document == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "flowchart %q has no document", fc.ID)
	}
	doc, err := json.Marshal(fc.Document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	now := time.Now().UTC()
	fc.CreatedAt = timeOr(fc.CreatedAt, now)
	fc.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flowcharts (id, name, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, document=excluded.document, updated_at=excluded.updated_at`,
		fc.ID, nullStr(fc.Name), string(doc), fc.CreatedAt, fc.UpdatedAt,
	)
	return storeErr(err, "save flowchart")
}

func (s *LibSQLStore) GetFlowchart(ctx context.Context, id string) (*FlowchartRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, document, created_at, updated_at FROM flowcharts WHERE id = ?`, id)
	fc, err := scanFlowchart(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("flowchart", id)
	}
	return fc, err
}

func (s *LibSQLStore) ListFlowcharts(ctx context.Context, filter FlowchartFilter) ([]*FlowchartRecord, error) {
	query := `SELECT id, name, document, created_at, updated_at FROM flowcharts ORDER BY updated_at DESC`
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr(err, "list flowcharts")
	}
	defer rows.Close()

	var out []*FlowchartRecord
	for rows.Next() {
		fc, err := scanFlowchart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteFlowchart(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flowcharts WHERE id = ?`, id)
	if err != nil {
		return storeErr(err, "delete flowchart")
	}
	return checkRowsAffected(res, "flowchart", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlowchart(r rowScanner) (*FlowchartRecord, error) {
	fc := &FlowchartRecord{}
	var name sql.NullString
	var doc string
	if err := r.Scan(&fc.ID, &name, &doc, &fc.CreatedAt, &fc.UpdatedAt); err != nil {
		return nil, err
	}
	fc.Name = name.String
	parsed, err := schema.ParseGraphDocument([]byte(doc))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "stored flowchart %s is corrupt", fc.ID).WithCause(err)
	}
	fc.Document = parsed
	return fc, nil
}

// --- Execution snapshots ---

func (s *LibSQLStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if len(snap.State) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "snapshot %q has no state", snap.SessionID)
	}
	snap.UpdatedAt = timeOr(snap.UpdatedAt, time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_snapshots (session_id, flowchart_id, status, state, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET flowchart_id=excluded.flowchart_id, status=excluded.status,
		   state=excluded.state, updated_at=excluded.updated_at`,
		snap.SessionID, nullStr(snap.FlowchartID), string(snap.Status), string(snap.State), snap.UpdatedAt.UnixMilli(),
	)
	return storeErr(err, "save snapshot")
}

func (s *LibSQLStore) GetSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	snap := &Snapshot{}
	var flowchartID sql.NullString
	var status, state string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, flowchart_id, status, state, updated_at FROM execution_snapshots WHERE session_id = ?`, sessionID,
	).Scan(&snap.SessionID, &flowchartID, &status, &state, &updated)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("snapshot", sessionID)
	}
	if err != nil {
		return nil, storeErr(err, "get snapshot")
	}
	snap.FlowchartID = flowchartID.String
	snap.Status = schema.ExecutionStatus(status)
	snap.State = json.RawMessage(state)
	snap.UpdatedAt = time.UnixMilli(updated).UTC()
	return snap, nil
}

func (s *LibSQLStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return storeErr(err, "delete snapshot")
	}
	return checkRowsAffected(res, "snapshot", sessionID)
}

func (s *LibSQLStore) PurgeSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_snapshots WHERE updated_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, storeErr(err, "purge snapshots")
	}
	return res.RowsAffected()
}

// --- Testcases ---

// PutTestcases replaces the testcases of a lab in one transaction.
func (s *LibSQLStore) PutTestcases(ctx context.Context, labID string, tcs []schema.Testcase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM testcases WHERE lab_id = ?`, labID); err != nil {
		return storeErr(err, "clear testcases")
	}
	for i, tc := range tcs {
		tc.LabID = labID
		body, err := json.Marshal(tc)
		if err != nil {
			return fmt.Errorf("marshal testcase %s: %w", tc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO testcases (lab_id, id, position, body) VALUES (?, ?, ?, ?)`,
			labID, tc.ID, i, string(body),
		); err != nil {
			return storeErr(err, "insert testcase "+tc.ID)
		}
	}
	return storeErr(tx.Commit(), "commit testcases")
}

func (s *LibSQLStore) ListTestcases(ctx context.Context, labID string) ([]schema.Testcase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM testcases WHERE lab_id = ? ORDER BY position ASC`, labID)
	if err != nil {
		return nil, storeErr(err, "list testcases")
	}
	defer rows.Close()

	var out []schema.Testcase
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var tc schema.Testcase
		if err := json.Unmarshal([]byte(body), &tc); err != nil {
			return nil, fmt.Errorf("unmarshal testcase: %w", err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, storeNotFound("lab", labID)
	}
	return out, nil
}

// --- Test sessions ---

func (s *LibSQLStore) SaveTestSession(ctx context.Context, session *schema.TestSession) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO test_sessions (id, flowchart_id, lab_id, total_score, max_score, body, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET total_score=excluded.total_score, max_score=excluded.max_score, body=excluded.body`,
		session.ID, nullStr(session.FlowchartID), nullStr(session.LabID),
		session.TotalScore, session.MaxScore, string(body), timeOr(session.StartedAt, time.Now().UTC()),
	)
	return storeErr(err, "save test session")
}

func (s *LibSQLStore) GetTestSession(ctx context.Context, id string) (*schema.TestSession, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM test_sessions WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("test session", id)
	}
	if err != nil {
		return nil, storeErr(err, "get test session")
	}
	return decodeSession(body)
}

func (s *LibSQLStore) ListTestSessions(ctx context.Context, filter SessionFilter) ([]*schema.TestSession, error) {
	var where []string
	var args []any

	if filter.FlowchartID != "" {
		where = append(where, "flowchart_id = ?")
		args = append(args, filter.FlowchartID)
	}
	if filter.LabID != "" {
		where = append(where, "lab_id = ?")
		args = append(args, filter.LabID)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT body FROM test_sessions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC" + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "list test sessions")
	}
	defer rows.Close()

	var out []*schema.TestSession
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		ts, err := decodeSession(body)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func decodeSession(body string) (*schema.TestSession, error) {
	ts := &schema.TestSession{}
	if err := json.Unmarshal([]byte(body), ts); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return ts, nil
}

// --- Events ---

// AppendEvent appends an event with the next per-session sequence number.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE session_id = ?`, event.SessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOr(event.Timestamp, time.Now().UTC())

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, node_id, testcase_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.SessionID, nullStr(event.NodeID), nullStr(event.TestcaseID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a session with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, node_id, testcase_id, event_type, payload, timestamp, sequence
		 FROM events WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`,
		sessionID, since,
	)
	if err != nil {
		return nil, storeErr(err, "get events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, testcaseID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &nodeID, &testcaseID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.TestcaseID = testcaseID.String
		if payload.Valid && payload.String != "" {
			e.Payload = json.RawMessage(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return schema.NewError(schema.ErrCodeStore, op).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}
