package service

import (
	"context"
	"errors"

	"github.com/rendis/flowlab/internal/engine"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/internal/store"
	"github.com/rendis/flowlab/pkg/schema"
)

// Execute serves one interactive execute request. Requests are stateless:
// the executor is rebuilt each time from RestoreState, or from the snapshot
// persisted under SessionID by the previous request. Inputs are the full
// input list of the session; a restored state resumes at its saved input
// position. Execution failures are reported in the response, not as errors.
func (s *Service) Execute(ctx context.Context, req *schema.ExecuteRequest) (*schema.ExecuteResponse, error) {
	if req == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execute request is nil")
	}
	action := req.Action
	if action == "" {
		action = schema.ActionRun
	}
	switch action {
	case schema.ActionRun, schema.ActionStep, schema.ActionReset, schema.ActionResume:
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown execute action %q", req.Action)
	}

	g, err := s.resolveGraph(ctx, req.FlowchartID, req.Flowchart)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.newID()
	}
	ctx = logging.WithSessionID(ctx, sessionID)
	if req.FlowchartID != "" {
		ctx = logging.WithFlowchartID(ctx, req.FlowchartID)
	}

	opts := req.Options
	if opts == nil {
		opts = &schema.ExecuteOptions{}
	}
	execOpts := []engine.Option{
		engine.WithInput(engine.NewQueueInput(req.Inputs)),
		engine.WithActions(s.registry),
		engine.WithExprEngine(s.exprs),
		engine.WithGuards(s.guards),
		engine.WithHub(s.hub),
		engine.WithLogger(s.logger),
		engine.WithSessionID(sessionID),
	}
	if opts.HistoryLimit > 0 {
		execOpts = append(execOpts, engine.WithHistoryLimit(opts.HistoryLimit))
	}
	ex := engine.NewExecutor(g, execOpts...)

	restored, err := s.restore(ctx, ex, req, sessionID)
	if err != nil {
		return nil, err
	}
	if !restored || action == schema.ActionReset {
		ex.SetVariables(req.Variables)
	}

	s.logger.DebugContext(ctx, "execute", "action", string(action), "restored", restored)

	var res *engine.StepResult
	force := req.ForceAdvanceBP || opts.IgnoreBreakpoints
	switch action {
	case schema.ActionRun:
		res, err = ex.RunToCompletion(ctx, force)
	case schema.ActionStep:
		res, err = ex.Step(ctx, req.ForceAdvanceBP)
	case schema.ActionResume:
		if !ex.Paused() {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"session %s is %s, not paused", sessionID, ex.Status())
		}
		res, err = ex.RunToCompletion(ctx, force)
	case schema.ActionReset:
		if err := ex.Reset(ctx); err != nil {
			return nil, err
		}
		ex.SetVariables(req.Variables)
	}
	// Failures the executor recorded belong in the response; anything else
	// (cancellation, invalid transitions) aborts the request.
	if err != nil && ex.Err() == nil {
		return nil, err
	}

	resp, err := ex.Response(res)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSnapshot(ctx, &store.Snapshot{
		SessionID:   sessionID,
		FlowchartID: req.FlowchartID,
		Status:      resp.Status,
		State:       resp.State,
	}); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		s.logger.InfoContext(ctx, "execution failed", "code", resp.Error.Code, "error", resp.Error.Message)
	}
	return resp, nil
}

// restore loads the state the request continues from. It reports whether a
// previous state was applied.
func (s *Service) restore(ctx context.Context, ex *engine.Executor, req *schema.ExecuteRequest, sessionID string) (bool, error) {
	if len(req.RestoreState) > 0 {
		return true, ex.RestoreJSON(req.RestoreState)
	}
	if req.SessionID == "" {
		return false, nil
	}
	snap, err := s.store.GetSnapshot(ctx, sessionID)
	if schema.IsCode(err, schema.ErrCodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if snap.FlowchartID != "" && req.FlowchartID != "" && snap.FlowchartID != req.FlowchartID {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"session %s belongs to flowchart %s", sessionID, snap.FlowchartID)
	}
	return true, ex.RestoreJSON(snap.State)
}

// EndSession deletes the persisted snapshot of an interactive session.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	err := s.store.DeleteSnapshot(ctx, sessionID)
	var fe *schema.FlowError
	if errors.As(err, &fe) && fe.Code == schema.ErrCodeNotFound {
		return nil
	}
	return err
}
