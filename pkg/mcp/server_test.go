package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowlab/internal/service"
	"github.com/rendis/flowlab/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc, err := service.New(service.Deps{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	return NewServer(ServerDeps{Service: svc})
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t)
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
	assert.NotNil(t, s.Sessions())
}

func TestToolRegistration(t *testing.T) {
	s := newTestServer(t)

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 7)

	expectedTools := []string{
		"flowchart.save",
		"flowchart.execute",
		"flowchart.grade",
		"flowchart.insert_node",
		"flowchart.remove_node",
		"flowchart.usage",
		"testcases.define",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"save", "flowchart.save", "Validate and store a flowchart graph document"},
		{"execute", "flowchart.execute", "Run, step, reset or resume an interactive flowchart execution"},
		{"grade", "flowchart.grade", "Grade a flowchart against testcases and return the scored session"},
		{"insert", "flowchart.insert_node", "Insert a node on an edge of a stored flowchart"},
		{"remove", "flowchart.remove_node", "Remove a node from a stored flowchart and reconnect its neighbours"},
		{"usage", "flowchart.usage", "Count the nodes of a stored flowchart per kind against the shape quota"},
		{"define", "testcases.define", "Validate and store the testcases of a lab"},
	}

	s := newTestServer(t)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}

func TestExecuteToolRequiresAction(t *testing.T) {
	s := newTestServer(t)
	tool := s.mcpServer.GetTool("flowchart.execute")
	require.NotNil(t, tool)
	assert.Contains(t, tool.Tool.InputSchema.Required, "action")
}
