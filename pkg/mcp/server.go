package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowlab/internal/service"
	"github.com/rendis/flowlab/internal/streaming"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Service *service.Service
	Hub     streaming.EventHub
	Logger  *slog.Logger
}

// Server wraps an MCP server with the flowlab tool handlers.
type Server struct {
	svc       *service.Service
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all flowlab tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	hub := deps.Hub
	if hub == nil {
		hub = streaming.Nop{}
	}

	s := &Server{
		svc:      deps.Service,
		hub:      hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"flowlab",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("flowlab executes and grades flowcharts. Use flowchart.save to store a graph, "+
			"flowchart.insert_node and flowchart.remove_node to edit it, flowchart.execute to run or step it, "+
			"testcases.define to register lab testcases and flowchart.grade to score a flowchart against them."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions, logger)
	return s
}

// Serve forwards trace events to connected clients and serves the stdio
// transport until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		if err := s.notifier.Forward(ctx, s.hub); err != nil {
			s.logger.Warn("trace forwarding stopped", slog.String("error", err.Error()))
		}
	}()
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the registry mapping flowlab sessions to MCP clients.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: gradeTool(), Handler: s.handleGrade},
		{Tool: insertNodeTool(), Handler: s.handleInsertNode},
		{Tool: removeNodeTool(), Handler: s.handleRemoveNode},
		{Tool: usageTool(), Handler: s.handleUsage},
		{Tool: defineTestcasesTool(), Handler: s.handleDefineTestcases},
	}
}

// --- Tool definitions ---

func saveTool() mcp.Tool {
	return mcp.NewTool("flowchart.save",
		mcp.WithDescription("Validate and store a flowchart graph document"),
		mcp.WithObject("flowchart", mcp.Required(), mcp.Description("Graph document {nodes, edges, limits}")),
		mcp.WithString("flowchart_id", mcp.Description("Flowchart ID (generated when omitted)")),
		mcp.WithString("name", mcp.Description("Display name")),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("flowchart.execute",
		mcp.WithDescription("Run, step, reset or resume an interactive flowchart execution"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("run", "step", "reset", "resume"),
			mcp.Description("What to do with the session"),
		),
		mcp.WithString("flowchart_id", mcp.Description("Stored flowchart to execute")),
		mcp.WithObject("flowchart", mcp.Description("Inline graph document, instead of flowchart_id")),
		mcp.WithString("session_id", mcp.Description("Session to continue (generated when omitted)")),
		mcp.WithObject("variables", mcp.Description("Initial variables for a fresh or reset session")),
		mcp.WithArray("inputs", mcp.Description("Values consumed by Input nodes, in order")),
		mcp.WithObject("restore_state", mcp.Description("State returned by a previous call, instead of session_id")),
		mcp.WithBoolean("force_advance_bp", mcp.Description("Do not pause on breakpoints during this call")),
		mcp.WithBoolean("ignore_breakpoints", mcp.Description("Run through every breakpoint")),
		mcp.WithNumber("history_limit", mcp.Description("Maximum history entries kept in the state")),
	)
}

func gradeTool() mcp.Tool {
	return mcp.NewTool("flowchart.grade",
		mcp.WithDescription("Grade a flowchart against testcases and return the scored session"),
		mcp.WithString("flowchart_id", mcp.Description("Stored flowchart to grade")),
		mcp.WithObject("flowchart", mcp.Description("Inline graph document, instead of flowchart_id")),
		mcp.WithString("lab_id", mcp.Description("Lab whose stored testcases are used")),
		mcp.WithArray("testcases", mcp.Description("Inline testcases, instead of lab_id")),
	)
}

func insertNodeTool() mcp.Tool {
	return mcp.NewTool("flowchart.insert_node",
		mcp.WithDescription("Insert a node on an edge of a stored flowchart"),
		mcp.WithString("flowchart_id", mcp.Required(), mcp.Description("Stored flowchart to edit")),
		mcp.WithString("edge_id", mcp.Required(), mcp.Description("Edge the node is placed on")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Node kind: code (IF, FR, OU...) or name (if, for, output...)")),
		mcp.WithString("node_id", mcp.Description("Node ID (generated when omitted)")),
		mcp.WithString("label", mcp.Description("Node label")),
		mcp.WithObject("data", mcp.Description("Kind-specific payload, e.g. {\"condition\": \"x > 1\"}")),
	)
}

func removeNodeTool() mcp.Tool {
	return mcp.NewTool("flowchart.remove_node",
		mcp.WithDescription("Remove a node from a stored flowchart and reconnect its neighbours"),
		mcp.WithString("flowchart_id", mcp.Required(), mcp.Description("Stored flowchart to edit")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node to remove")),
	)
}

func usageTool() mcp.Tool {
	return mcp.NewTool("flowchart.usage",
		mcp.WithDescription("Count the nodes of a stored flowchart per kind against the shape quota"),
		mcp.WithString("flowchart_id", mcp.Required(), mcp.Description("Stored flowchart")),
	)
}

func defineTestcasesTool() mcp.Tool {
	return mcp.NewTool("testcases.define",
		mcp.WithDescription("Validate and store the testcases of a lab"),
		mcp.WithString("lab_id", mcp.Required(), mcp.Description("Lab ID")),
		mcp.WithArray("testcases", mcp.Required(), mcp.Description("Testcases {id, inputs, expectedOutputs, hiddenInputs, hiddenExpectedOutputs, score, comparator, tolerance}")),
	)
}
