// Package grading runs flowcharts against testcases and scores the results.
package grading

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rendis/flowlab/internal/actions"
	"github.com/rendis/flowlab/internal/engine"
	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/pkg/schema"
)

// Batch is one grading request resolved to a graph and its testcases.
type Batch struct {
	FlowchartID string
	LabID       string
	Flowchart   *graph.Flowchart
	Testcases   []schema.Testcase
}

// Runner grades batches. Every run works on its own sanitized clone of the
// batch graph, so testcases of a batch run in parallel on the pool.
type Runner struct {
	pool       *engine.WorkerPool
	comparator *OutputComparator
	exprs      *expressions.ExprEngine
	actions    actions.ActionRegistry
	hub        streaming.EventHub
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPool sets the worker pool testcases run on.
func WithPool(p *engine.WorkerPool) RunnerOption {
	return func(r *Runner) { r.pool = p }
}

// WithComparator sets the output comparator.
func WithComparator(c *OutputComparator) RunnerOption {
	return func(r *Runner) { r.comparator = c }
}

// WithActions sets the registry Do nodes resolve actions from.
func WithActions(reg actions.ActionRegistry) RunnerOption {
	return func(r *Runner) { r.actions = reg }
}

// WithHub publishes grading progress on hub.
func WithHub(hub streaming.EventHub) RunnerOption {
	return func(r *Runner) { r.hub = hub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithClock replaces time.Now for session timestamps and durations.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithSessionIDs replaces the ULID session id generator.
func WithSessionIDs(gen func() string) RunnerOption {
	return func(r *Runner) { r.newID = gen }
}

// NewRunner creates a Runner. Without WithPool testcases run one at a time.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		exprs: expressions.NewExprEngine(),
		hub:   streaming.Nop{},
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = engine.NewWorkerPool(1)
	}
	if r.comparator == nil {
		r.comparator = NewOutputComparator(nil)
	}
	if r.hub == nil {
		r.hub = streaming.Nop{}
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// Grade runs every testcase of the batch and returns the scored session.
// One testcase never aborts the others; only a nil graph is an error.
func (r *Runner) Grade(ctx context.Context, b Batch) (*schema.TestSession, error) {
	if b.Flowchart == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "batch has no flowchart")
	}

	session := &schema.TestSession{
		ID:          r.newID(),
		FlowchartID: b.FlowchartID,
		LabID:       b.LabID,
		StartedAt:   r.now().UTC(),
	}
	ctx = logging.WithSessionID(ctx, session.ID)
	if b.FlowchartID != "" {
		ctx = logging.WithFlowchartID(ctx, b.FlowchartID)
	}
	r.logger.InfoContext(ctx, "grading started", "testcases", len(b.Testcases))

	results := make([]schema.TestcaseResult, len(b.Testcases))
	ran := make([]bool, len(b.Testcases))
	err := r.pool.ForEach(ctx, len(b.Testcases), func(ctx context.Context, i int) error {
		results[i] = r.gradeTestcase(ctx, session.ID, b.Flowchart, b.Testcases[i])
		ran[i] = true
		return nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "grading interrupted", "error", err)
	}

	for i, tc := range b.Testcases {
		if !ran[i] {
			results[i] = errorResult(tc, "testcase not run: "+errText(err))
		}
		session.Results = append(session.Results, results[i])
		session.TotalScore += results[i].ScoreAwarded
		session.MaxScore += tc.Score
	}
	done := r.now().UTC()
	session.CompletedAt = &done

	counts := session.Counts()
	r.publish(ctx, session.ID, "", schema.EventSessionCompleted, map[string]any{
		"total_score": session.TotalScore,
		"max_score":   session.MaxScore,
		"counts":      counts,
	})
	r.logger.InfoContext(ctx, "grading completed",
		"total_score", session.TotalScore,
		"max_score", session.MaxScore,
		"pass", counts[schema.TestStatusPass],
		"fail", counts[schema.TestStatusFail],
		"error", counts[schema.TestStatusError]+counts[schema.TestStatusInputMissing],
	)
	return session, nil
}

// gradeTestcase produces the one result of tc.
func (r *Runner) gradeTestcase(ctx context.Context, sessionID string, g *graph.Flowchart, tc schema.Testcase) schema.TestcaseResult {
	ctx = logging.WithTestcaseID(ctx, tc.ID)
	started := r.now()
	r.publish(ctx, sessionID, tc.ID, schema.EventTestcaseStarted, nil)

	res := r.grade(ctx, g, tc)
	res.DurationMs = r.now().Sub(started).Milliseconds()

	r.publish(ctx, sessionID, tc.ID, schema.EventTestcaseCompleted, map[string]any{
		"status":        string(res.Status),
		"score_awarded": res.ScoreAwarded,
		"hidden":        res.Hidden,
	})
	r.logger.DebugContext(ctx, "testcase graded", "status", string(res.Status), "score", res.ScoreAwarded)
	return res
}

func (r *Runner) grade(ctx context.Context, g *graph.Flowchart, tc schema.Testcase) schema.TestcaseResult {
	inputs, err := ParseList(tc.Inputs)
	if err != nil {
		return errorResult(tc, "inputs: "+err.Error())
	}
	expected, err := ParseList(tc.ExpectedOutputs)
	if err != nil {
		return errorResult(tc, "expected outputs: "+err.Error())
	}

	visible := r.runRound(ctx, g, tc, inputs, expected)
	res := schema.TestcaseResult{
		TestcaseID:   tc.ID,
		Status:       visible.status,
		Expected:     expected,
		Actual:       visible.actual,
		MaxScore:     tc.Score,
		ErrorMessage: visible.message,
	}
	if visible.status != schema.TestStatusPass {
		return res
	}
	res.ScoreAwarded = tc.Score

	hiddenInputs, err := ParseList(tc.HiddenInputs)
	if err != nil {
		return hiddenError(res, "hidden inputs: "+err.Error())
	}
	hiddenExpected, err := ParseList(tc.HiddenExpectedOutputs)
	if err != nil {
		return hiddenError(res, "hidden expected outputs: "+err.Error())
	}
	// A hidden round needs both lists.
	if len(hiddenInputs) == 0 || len(hiddenExpected) == 0 {
		return res
	}

	res.Hidden = true

	hidden := r.runRound(ctx, g, tc, hiddenInputs, hiddenExpected)
	switch hidden.status {
	case schema.TestStatusPass:
	case schema.TestStatusFail:
		res.Status = schema.TestStatusFail
		res.ScoreAwarded = 0
		res.ErrorMessage = "hidden testcase failed"
	default:
		return hiddenError(res, "hidden testcase: "+hidden.message)
	}
	return res
}

type round struct {
	status  schema.TestStatus
	actual  []any
	message string
}

// runRound executes a sanitized clone of g once with inputs and compares the
// output chunk against expected.
func (r *Runner) runRound(ctx context.Context, g *graph.Flowchart, tc schema.Testcase, inputs, expected []any) round {
	opts := []engine.Option{
		engine.WithInput(engine.NewNormalizingQueue(inputs)),
		engine.WithExprEngine(r.exprs),
		engine.WithLogger(r.logger),
		engine.WithHistoryLimit(1),
	}
	if r.actions != nil {
		opts = append(opts, engine.WithActions(r.actions))
	}
	ex := engine.NewExecutor(g.SanitizedClone(), opts...)

	if _, err := ex.RunToCompletion(ctx, true); err != nil {
		status := schema.TestStatusError
		if schema.IsCode(err, schema.ErrCodeInputMissing) {
			status = schema.TestStatusInputMissing
		}
		return round{status: status, actual: Chunk(ex.Context().Output(), 0, len(expected)), message: err.Error()}
	}

	actual := Chunk(ex.Context().Output(), 0, len(expected))
	var tol float64
	if tc.Tolerance != nil {
		tol = *tc.Tolerance
	}
	match, err := r.comparator.Compare(ctx, tc.Comparator, tol, expected, actual)
	switch {
	case err != nil:
		return round{status: schema.TestStatusError, actual: actual, message: err.Error()}
	case match:
		return round{status: schema.TestStatusPass, actual: actual}
	}
	return round{status: schema.TestStatusFail, actual: actual}
}

func (r *Runner) publish(ctx context.Context, sessionID, testcaseID, eventType string, payload any) {
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		SessionID:  sessionID,
		TestcaseID: testcaseID,
		EventType:  eventType,
		Payload:    payload,
	})
}

func errorResult(tc schema.Testcase, msg string) schema.TestcaseResult {
	return schema.TestcaseResult{
		TestcaseID:   tc.ID,
		Status:       schema.TestStatusError,
		MaxScore:     tc.Score,
		ErrorMessage: msg,
	}
}

// hiddenError turns a visible pass into an ERROR with no score.
func hiddenError(res schema.TestcaseResult, msg string) schema.TestcaseResult {
	res.Status = schema.TestStatusError
	res.ScoreAwarded = 0
	res.ErrorMessage = msg
	res.Hidden = true
	return res
}

func errText(err error) string {
	if err == nil {
		return "unknown reason"
	}
	return err.Error()
}
