package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTestcases_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		labID   string
	}{
		{"yaml object", "cases.yaml", sumTestcasesYAML, "lab-sum"},
		{"yaml list", "cases.yml", "- {id: a, inputs: [1, 2], expectedOutputs: ['3'], score: 1}\n", ""},
		{"json object", "cases.json", `{"lab_id": "l", "testcases": [{"id": "a", "score": 1}]}`, "l"},
		{"json list", "cases.json", `[{"id": "a", "score": 1}]`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx, err := loadTestcases(writeFile(t, tc.file, tc.content))
			require.NoError(t, err)
			assert.Equal(t, tc.labID, fx.LabID)
			require.NotEmpty(t, fx.Testcases)
			assert.NotEmpty(t, fx.Testcases[0].ID)
		})
	}
}

func TestLoadTestcases_YAMLInputsBecomeJSON(t *testing.T) {
	fx, err := loadTestcases(writeFile(t, "cases.yaml", sumTestcasesYAML))
	require.NoError(t, err)
	require.Len(t, fx.Testcases, 2)
	assert.JSONEq(t, `[1, 2]`, string(fx.Testcases[0].Inputs))
	assert.JSONEq(t, `["3"]`, string(fx.Testcases[0].ExpectedOutputs))
	assert.Equal(t, 3.0, fx.Testcases[1].Score)
}

func TestLoadTestcases_Errors(t *testing.T) {
	_, err := loadTestcases(writeFile(t, "bad.yaml", "testcases: [\n"))
	assert.Error(t, err)

	_, err = loadTestcases(writeFile(t, "nokey.json", `{"lab_id": "x"}`))
	assert.ErrorContains(t, err, "no testcases key")

	_, err = loadTestcases("/does/not/exist.json")
	assert.Error(t, err)
}

func TestLoadFlowchart(t *testing.T) {
	doc, err := loadFlowchart(writeFile(t, "sum.yaml", sumFlowchartYAML))
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 5)
	assert.Len(t, doc.Edges, 4)

	doc, err = loadFlowchart(writeFile(t, "sum.json", sumFlowchart))
	require.NoError(t, err)
	assert.Equal(t, "n_start", doc.Nodes[0].ID)

	_, err = loadFlowchart(writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
}
