package service

import (
	"context"

	"github.com/rendis/flowlab/internal/grading"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/internal/store"
	"github.com/rendis/flowlab/pkg/schema"
)

// Grade runs a flowchart against testcases and stores the scored session.
// Testcases come inline or from the lab stored under LabID. Malformed
// testcase data is not rejected here; it grades as ERROR.
func (s *Service) Grade(ctx context.Context, req *schema.GradeRequest) (*schema.TestSession, error) {
	if req == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "grade request is nil")
	}
	g, err := s.resolveGraph(ctx, req.FlowchartID, req.Flowchart)
	if err != nil {
		return nil, err
	}

	tcs := req.Testcases
	if len(tcs) == 0 {
		if req.LabID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "grade request needs testcases or a labId")
		}
		if tcs, err = s.store.ListTestcases(ctx, req.LabID); err != nil {
			return nil, err
		}
	}

	if req.FlowchartID != "" {
		ctx = logging.WithFlowchartID(ctx, req.FlowchartID)
	}
	session, err := s.runner.Grade(ctx, grading.Batch{
		FlowchartID: req.FlowchartID,
		LabID:       req.LabID,
		Flowchart:   g,
		Testcases:   tcs,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveTestSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// TestSession returns a stored grading session.
func (s *Service) TestSession(ctx context.Context, id string) (*schema.TestSession, error) {
	return s.store.GetTestSession(ctx, id)
}

// TestSessions lists stored grading sessions, newest first.
func (s *Service) TestSessions(ctx context.Context, filter store.SessionFilter) ([]*schema.TestSession, error) {
	return s.store.ListTestSessions(ctx, filter)
}

// DefineTestcases validates and stores the testcases of a lab, replacing
// any previous definition. Warnings are returned with the stored count.
func (s *Service) DefineTestcases(ctx context.Context, labID string, tcs []schema.Testcase) (*schema.ValidationResult, error) {
	if labID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "labId is required")
	}
	if len(tcs) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "at least one testcase is required")
	}
	result := s.validator.CheckTestcases(tcs)
	if !result.Valid() {
		return result, result.ToError()
	}
	if err := s.store.PutTestcases(ctx, labID, tcs); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "testcases defined", "lab_id", labID, "count", len(tcs))
	return result, nil
}
