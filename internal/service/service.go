// Package service is the request-level API over the flowlab core: it
// resolves flowcharts from the store, runs interactive executions, grades
// submissions, applies graph mutations and defines lab testcases.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/rendis/flowlab/internal/actions"
	"github.com/rendis/flowlab/internal/engine"
	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/grading"
	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/internal/logging"
	"github.com/rendis/flowlab/internal/store"
	"github.com/rendis/flowlab/internal/streaming"
	"github.com/rendis/flowlab/internal/validation"
	"github.com/rendis/flowlab/pkg/schema"
)

// Deps holds the collaborators of a Service. Only Store is required.
type Deps struct {
	Store    store.Store
	Registry *actions.Registry
	Hub      streaming.EventHub
	Pool     *engine.WorkerPool
	Quota    graph.ShapeQuota
	Logger   *slog.Logger
}

// Service handles flowlab requests.
type Service struct {
	store     store.Store
	graphs    *store.GraphStore
	registry  *actions.Registry
	exprs     *expressions.ExprEngine
	guards    *expressions.CELEngine
	validator *validation.FlowchartValidator
	runner    *grading.Runner
	hub       streaming.EventHub
	quota     graph.ShapeQuota
	logger    *slog.Logger
	newID     func() string
}

// New wires a Service. A nil Registry gets the built-in actions.
func New(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("service: store is required")
	}
	logger := logging.OrDefault(deps.Logger)
	hub := deps.Hub
	if hub == nil {
		hub = streaming.Nop{}
	}

	exprs := expressions.NewExprEngine()
	guards, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create guard engine: %w", err)
	}

	registry := deps.Registry
	if registry == nil {
		registry = actions.NewRegistry()
		if err := actions.RegisterBuiltins(registry, exprs, logger); err != nil {
			return nil, fmt.Errorf("register builtin actions: %w", err)
		}
	}

	validator, err := validation.NewFlowchartValidator(registry)
	if err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}

	newID := func() string { return uuid.New().String() }
	runnerOpts := []grading.RunnerOption{
		grading.WithActions(registry),
		grading.WithHub(hub),
		grading.WithLogger(logger),
		grading.WithComparator(grading.NewOutputComparator(expressions.NewGoJQEngine())),
	}
	if deps.Pool != nil {
		runnerOpts = append(runnerOpts, grading.WithPool(deps.Pool))
	}

	return &Service{
		store:     deps.Store,
		graphs:    store.NewGraphStore(deps.Store, graph.WithEdgeIDGenerator(newID)),
		registry:  registry,
		exprs:     exprs,
		guards:    guards,
		validator: validator,
		runner:    grading.NewRunner(runnerOpts...),
		hub:       hub,
		quota:     deps.Quota,
		logger:    logger,
		newID:     newID,
	}, nil
}

// Validator exposes the document validator.
func (s *Service) Validator() *validation.FlowchartValidator { return s.validator }

// Actions lists the registered Do actions.
func (s *Service) Actions() []actions.ActionInfo { return s.registry.List() }

// --- Flowcharts ---

// SaveResult reports a stored flowchart and any validation warnings.
type SaveResult struct {
	ID       string                   `json:"id"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
	Usage    map[string]int           `json:"usage"`
}

// SaveFlowchart validates doc, checks it against the shape quota and stores
// it. An empty id gets a generated one.
func (s *Service) SaveFlowchart(ctx context.Context, id, name string, doc *schema.GraphDocument) (*SaveResult, error) {
	result := s.validator.Check(doc)
	if !result.Valid() {
		return nil, result.ToError()
	}
	f, err := graph.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := s.withinQuota(f.Usage()); err != nil {
		return nil, err
	}
	if id == "" {
		id = s.newID()
	}
	ctx = logging.WithFlowchartID(ctx, id)
	if err := s.store.SaveFlowchart(ctx, &store.FlowchartRecord{ID: id, Name: name, Document: f.ToDocument()}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "flowchart saved", "nodes", f.NodeCount(), "warnings", len(result.Warnings))
	return &SaveResult{ID: id, Warnings: result.Warnings, Usage: usageMap(f.Usage())}, nil
}

// GetFlowchart returns the stored document.
func (s *Service) GetFlowchart(ctx context.Context, id string) (*store.FlowchartRecord, error) {
	return s.store.GetFlowchart(ctx, id)
}

// resolveGraph hydrates an inline document, or loads flowchartID.
func (s *Service) resolveGraph(ctx context.Context, flowchartID string, doc *schema.GraphDocument) (*graph.Flowchart, error) {
	switch {
	case doc != nil:
		return graph.FromDocument(doc, graph.WithEdgeIDGenerator(s.newID))
	case flowchartID != "":
		return s.graphs.Load(ctx, flowchartID)
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "request needs a flowchart or a flowchartId")
	}
}

// --- Usage ---

// UsageReport lists per-kind node counts and the configured caps.
type UsageReport struct {
	FlowchartID string         `json:"flowchartId"`
	Counts      map[string]int `json:"counts"`
	Limits      map[string]int `json:"limits,omitempty"`
	Remaining   map[string]int `json:"remaining,omitempty"`
}

// Usage counts the nodes of a stored flowchart per kind.
func (s *Service) Usage(ctx context.Context, flowchartID string) (*UsageReport, error) {
	f, err := s.graphs.Load(ctx, flowchartID)
	if err != nil {
		return nil, err
	}
	u := f.Usage()
	report := &UsageReport{FlowchartID: flowchartID, Counts: usageMap(u)}
	for _, kind := range graph.AllKinds {
		limit, capped := s.quota.Limit(kind)
		if !capped {
			continue
		}
		if report.Limits == nil {
			report.Limits = make(map[string]int)
			report.Remaining = make(map[string]int)
		}
		report.Limits[string(kind)] = limit
		report.Remaining[string(kind)] = max(limit-u[kind], 0)
	}
	return report, nil
}

func (s *Service) withinQuota(u graph.Usage) error {
	kinds := make([]string, 0, len(u))
	for k := range u {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kind := graph.NodeKind(k)
		if limit, capped := s.quota.Limit(kind); capped && u[kind] > limit {
			return schema.NewErrorf(schema.ErrCodeLimitExceeded, "flowchart has %d %s nodes, quota is %d", u[kind], kind, limit).
				WithDetails(map[string]any{"kind": k, "limit": limit, "used": u[kind]})
		}
	}
	return nil
}

func usageMap(u graph.Usage) map[string]int {
	out := make(map[string]int, len(u))
	for k, n := range u {
		if n > 0 {
			out[string(k)] = n
		}
	}
	return out
}
