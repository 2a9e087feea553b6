package validation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/pkg/schema"
)

const minimalFlowchart = `{
	"nodes": [
		{"id": "n_start", "type": "ST"},
		{"id": "n_end", "type": "EN"}
	],
	"edges": [
		{"id": "e_start_end", "source": "n_start", "target": "n_end", "condition": "auto"}
	]
}`

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v.flowchartSchema)
	assert.NotNil(t, v.testcasesSchema)
}

// --- Flowchart documents ---

func TestValidateFlowchartJSON_Valid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateFlowchartJSON([]byte(minimalFlowchart)))
}

func TestValidateFlowchart_SerializedGraph(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	g := graph.New()
	n, err := graph.NewNode("f1", graph.KindFor, "", map[string]any{"condition": "i < 3", "init": "i = 0"})
	require.NoError(t, err)
	require.NoError(t, g.InsertNodeAtEdge(graph.StartEndEdgeID, n, "loop"))

	assert.NoError(t, v.ValidateFlowchart(g.ToDocument()))
}

func TestValidateFlowchartJSON_Violations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"missing edges", `{"nodes": [{"id": "a", "type": "ST"}, {"id": "b", "type": "EN"}]}`, "/"},
		{"too few nodes", `{"nodes": [{"id": "a", "type": "ST"}], "edges": []}`, "/nodes"},
		{"empty node id", `{"nodes": [{"id": "", "type": "ST"}, {"id": "b", "type": "EN"}], "edges": []}`, "/nodes/0/id"},
		{"unknown node property", `{"nodes": [{"id": "a", "type": "ST", "colour": "red"}, {"id": "b", "type": "EN"}], "edges": []}`, "/nodes/0"},
		{"bad condition", `{"nodes": [{"id": "a", "type": "ST"}, {"id": "b", "type": "EN"}], "edges": [{"id": "e", "source": "a", "target": "b", "condition": "maybe"}]}`, "/edges/0/condition"},
		{"negative limit", `{"nodes": [{"id": "a", "type": "ST"}, {"id": "b", "type": "EN"}], "edges": [], "limits": {"maxSteps": -1}}`, "/limits/maxSteps"},
		{"data not object", `{"nodes": [{"id": "a", "type": "ST", "data": []}, {"id": "b", "type": "EN"}], "edges": []}`, "/nodes/0/data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateFlowchartJSON([]byte(tt.doc))
			require.Error(t, err)
			fe, ok := err.(*schema.FlowError)
			require.True(t, ok)
			assert.Equal(t, schema.ErrCodeValidation, fe.Code)

			violations, ok := fe.Details["violations"].([]violation)
			require.True(t, ok)
			var paths []string
			for _, vi := range violations {
				paths = append(paths, vi.Path)
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}

func TestValidateFlowchartJSON_MalformedJSON(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	err = v.ValidateFlowchartJSON([]byte(`{"nodes": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")
}

func TestValidateFlowchart_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.True(t, schema.IsCode(v.ValidateFlowchart(nil), schema.ErrCodeValidation))
}

// --- Testcase documents ---

func TestValidateTestcases(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tol := 0.01
	ok := []schema.Testcase{{
		ID:              "tc-1",
		Inputs:          json.RawMessage(`[1, 2]`),
		ExpectedOutputs: json.RawMessage(`"[\"3\"]"`),
		Score:           10,
		Comparator:      "numeric",
		Tolerance:       &tol,
	}}
	assert.NoError(t, v.ValidateTestcases(ok))
	assert.NoError(t, v.ValidateTestcases(nil))

	bad := []schema.Testcase{{ID: "tc-1", Score: -1}}
	assert.Error(t, v.ValidateTestcases(bad))

	zero := 0.0
	assert.Error(t, v.ValidateTestcases([]schema.Testcase{{ID: "tc-1", Tolerance: &zero}}))
}

func TestValidateTestcasesJSON(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateTestcasesJSON([]byte(`[{"id": "a", "inputs": [1], "expectedOutputs": ["1"], "score": 1}]`)))
	assert.Error(t, v.ValidateTestcasesJSON([]byte(`{"id": "a"}`)), "top level must be a list")
	assert.Error(t, v.ValidateTestcasesJSON([]byte(`[{"id": "a", "inputs": 5}]`)))
	assert.Error(t, v.ValidateTestcasesJSON([]byte(`[{"id": "a", "points": 5}]`)))
	assert.Error(t, v.ValidateTestcasesJSON([]byte(`[{"inputs": []}]`)))
}

func TestJSONSchemaValidator_Concurrent(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateFlowchartJSON([]byte(minimalFlowchart)))
		}()
	}
	wg.Wait()
}
