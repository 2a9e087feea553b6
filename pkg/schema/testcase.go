package schema

import (
	"encoding/json"
	"time"
)

// Testcase is one graded input/output/score unit. Input and output lists are
// kept raw so that malformed data surfaces as an ERROR result at grading time
// instead of failing the whole request.
type Testcase struct {
	ID                    string          `json:"id"`
	LabID                 string          `json:"labId,omitempty"`
	Inputs                json.RawMessage `json:"inputs,omitempty"`
	ExpectedOutputs       json.RawMessage `json:"expectedOutputs,omitempty"`
	HiddenInputs          json.RawMessage `json:"hiddenInputs,omitempty"`
	HiddenExpectedOutputs json.RawMessage `json:"hiddenExpectedOutputs,omitempty"`
	Score                 float64         `json:"score"`
	Comparator            string          `json:"comparator,omitempty"`
	Tolerance             *float64        `json:"tolerance,omitempty"`
}

// TestcaseResult is the graded outcome of one testcase.
type TestcaseResult struct {
	TestcaseID   string     `json:"testcaseId"`
	Status       TestStatus `json:"status"`
	Expected     []any      `json:"expected,omitempty"`
	Actual       []any      `json:"actual,omitempty"`
	ScoreAwarded float64    `json:"scoreAwarded"`
	MaxScore     float64    `json:"maxScore"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Hidden       bool       `json:"hidden,omitempty"`
	DurationMs   int64      `json:"durationMs,omitempty"`
}

// TestSession aggregates the results of one grading batch.
type TestSession struct {
	ID          string           `json:"id"`
	FlowchartID string           `json:"flowchartId,omitempty"`
	LabID       string           `json:"labId,omitempty"`
	Results     []TestcaseResult `json:"results"`
	TotalScore  float64          `json:"totalScore"`
	MaxScore    float64          `json:"maxScore"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Counts tallies results by status.
func (s *TestSession) Counts() map[TestStatus]int {
	counts := make(map[TestStatus]int, 4)
	for _, r := range s.Results {
		counts[r.Status]++
	}
	return counts
}

// GradeRequest asks for a flowchart to be graded against testcases. Either
// FlowchartID or Flowchart is set; either LabID or Testcases is set.
type GradeRequest struct {
	FlowchartID string         `json:"flowchartId,omitempty"`
	Flowchart   *GraphDocument `json:"flowchart,omitempty"`
	LabID       string         `json:"labId,omitempty"`
	Testcases   []Testcase     `json:"testcases,omitempty"`
}
