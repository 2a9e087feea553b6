package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowlab/internal/service"
	"github.com/rendis/flowlab/pkg/schema"
)

// handleSave validates and stores a flowchart.
func (s *Server) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var doc schema.GraphDocument
	found, err := decodeArg(req, "flowchart", &doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid flowchart: %v", err)), nil
	}
	if !found {
		return mcp.NewToolResultError("flowchart is required"), nil
	}

	res, err := s.svc.SaveFlowchart(ctx, req.GetString("flowchart_id", ""), req.GetString("name", ""), &doc)
	if err != nil {
		return errorResult("save failed", err), nil
	}
	s.captureSession(ctx, res.ID)
	return marshalResult(res)
}

// handleExecute runs one interactive execute request.
func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	er := &schema.ExecuteRequest{
		SessionID:      req.GetString("session_id", ""),
		FlowchartID:    req.GetString("flowchart_id", ""),
		Action:         schema.ExecuteAction(action),
		Variables:      mcp.ParseStringMap(req, "variables", nil),
		ForceAdvanceBP: req.GetBool("force_advance_bp", false),
	}

	var doc schema.GraphDocument
	found, err := decodeArg(req, "flowchart", &doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid flowchart: %v", err)), nil
	}
	if found {
		er.Flowchart = &doc
	}
	if _, err := decodeArg(req, "inputs", &er.Inputs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid inputs: %v", err)), nil
	}
	if raw, ok := req.GetArguments()["restore_state"]; ok && raw != nil {
		state, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid restore_state: %v", err)), nil
		}
		er.RestoreState = state
	}

	ignoreBP := req.GetBool("ignore_breakpoints", false)
	historyLimit := extractInt(req.GetArguments(), "history_limit", 0)
	if ignoreBP || historyLimit > 0 {
		er.Options = &schema.ExecuteOptions{IgnoreBreakpoints: ignoreBP, HistoryLimit: historyLimit}
	}

	// The session ID is fixed here so trace events can be routed to this
	// client from the first step on.
	if er.SessionID == "" && len(er.RestoreState) == 0 {
		er.SessionID = uuid.New().String()
	}
	if er.SessionID != "" {
		s.captureSession(ctx, er.SessionID)
	}

	resp, err := s.svc.Execute(ctx, er)
	if err != nil {
		return errorResult("execute failed", err), nil
	}
	return marshalResult(resp)
}

// handleGrade grades a flowchart against inline or stored testcases.
func (s *Server) handleGrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gr := &schema.GradeRequest{
		FlowchartID: req.GetString("flowchart_id", ""),
		LabID:       req.GetString("lab_id", ""),
	}
	var doc schema.GraphDocument
	found, err := decodeArg(req, "flowchart", &doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid flowchart: %v", err)), nil
	}
	if found {
		gr.Flowchart = &doc
	}
	if _, err := decodeArg(req, "testcases", &gr.Testcases); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid testcases: %v", err)), nil
	}
	if gr.FlowchartID == "" && gr.Flowchart == nil {
		return mcp.NewToolResultError("one of flowchart_id or flowchart is required"), nil
	}

	ts, err := s.svc.Grade(ctx, gr)
	if err != nil {
		return errorResult("grading failed", err), nil
	}
	return marshalResult(ts)
}

// handleInsertNode places a new node on an edge.
func (s *Server) handleInsertNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowchartID, err := req.RequireString("flowchart_id")
	if err != nil {
		return mcp.NewToolResultError("flowchart_id is required"), nil
	}
	edgeID, err := req.RequireString("edge_id")
	if err != nil {
		return mcp.NewToolResultError("edge_id is required"), nil
	}
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	s.captureSession(ctx, flowchartID)

	res, err := s.svc.InsertNode(ctx, service.InsertRequest{
		FlowchartID: flowchartID,
		EdgeID:      edgeID,
		NodeID:      req.GetString("node_id", ""),
		Kind:        kind,
		Label:       req.GetString("label", ""),
		Data:        mcp.ParseStringMap(req, "data", nil),
	})
	if err != nil {
		return errorResult("insert failed", err), nil
	}
	return marshalResult(res)
}

// handleRemoveNode deletes a node and reconnects its neighbours.
func (s *Server) handleRemoveNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowchartID, err := req.RequireString("flowchart_id")
	if err != nil {
		return mcp.NewToolResultError("flowchart_id is required"), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}
	s.captureSession(ctx, flowchartID)

	res, err := s.svc.RemoveNode(ctx, flowchartID, nodeID)
	if err != nil {
		return errorResult("remove failed", err), nil
	}
	return marshalResult(res)
}

// handleUsage reports per-kind node counts against the quota.
func (s *Server) handleUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowchartID, err := req.RequireString("flowchart_id")
	if err != nil {
		return mcp.NewToolResultError("flowchart_id is required"), nil
	}
	report, err := s.svc.Usage(ctx, flowchartID)
	if err != nil {
		return errorResult("usage lookup failed", err), nil
	}
	return marshalResult(report)
}

// handleDefineTestcases validates and stores the testcases of a lab.
func (s *Server) handleDefineTestcases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	labID, err := req.RequireString("lab_id")
	if err != nil {
		return mcp.NewToolResultError("lab_id is required"), nil
	}
	var tcs []schema.Testcase
	found, err := decodeArg(req, "testcases", &tcs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid testcases: %v", err)), nil
	}
	if !found {
		return mcp.NewToolResultError("testcases is required"), nil
	}

	result, err := s.svc.DefineTestcases(ctx, labID, tcs)
	if err != nil {
		if result != nil && !result.Valid() {
			data, _ := json.Marshal(result)
			return mcp.NewToolResultError(fmt.Sprintf("testcases rejected: %s", data)), nil
		}
		return errorResult("define failed", err), nil
	}
	return marshalResult(map[string]any{
		"lab_id":   labID,
		"count":    len(tcs),
		"warnings": result.Warnings,
	})
}

// --- Helpers ---

// decodeArg re-decodes a structured argument into dst through JSON.
// Reports whether the argument was present.
func decodeArg(req mcp.CallToolRequest, key string, dst any) (bool, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return false, nil
	}
	if s, isString := raw.(string); isString {
		// Clients without object support send the document as a JSON string.
		return true, json.Unmarshal([]byte(s), dst)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(data, dst)
}

// extractInt safely extracts an int from a map with a default value.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps a flowlab session to the current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, sessionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(sessionID, session.SessionID())
	}
}

// errorResult renders err as a tool error. Flow errors carry their code in
// the message as "[CODE] ...".
func errorResult(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult serializes v to JSON and returns it as a tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
