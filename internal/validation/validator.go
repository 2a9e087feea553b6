// Package validation checks flowchart and testcase documents before they are
// stored, executed or graded.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/pkg/schema"
)

// Validator checks documents for correctness before use.
type Validator interface {
	ValidateFlowchart(doc *schema.GraphDocument) error
	ValidateTestcases(tcs []schema.Testcase) error
}

// ActionLookup reports whether a Do action name is registered.
type ActionLookup interface {
	Has(name string) bool
}

// FlowchartValidator orchestrates the validation pipeline:
//  1. Structural (JSON Schema)
//  2. Semantic (kinds, ids, payload keys, expressions, edge endpoints)
//  3. Graph (hydration, Start→End path, reachability warnings)
type FlowchartValidator struct {
	jsonSchema *JSONSchemaValidator
	checkers   *checkers
}

// NewFlowchartValidator creates a FlowchartValidator. lookup may be nil to
// skip action existence checks.
func NewFlowchartValidator(lookup ActionLookup) (*FlowchartValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	guards, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &FlowchartValidator{
		jsonSchema: jsv,
		checkers: &checkers{
			exprs:   expressions.NewExprEngine(),
			guards:  guards,
			actions: lookup,
		},
	}, nil
}

// Check runs the pipeline over a decoded document. Structural errors
// short-circuit; the graph stage only runs on a semantically valid document.
func (v *FlowchartValidator) Check(doc *schema.GraphDocument) *schema.ValidationResult {
	if doc == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "flowchart document is nil")
		return r
	}
	result := structural(v.jsonSchema.ValidateFlowchart(doc))
	if !result.Valid() {
		return result
	}
	return v.checkDecoded(doc, result)
}

// CheckJSON runs the pipeline over a raw document, so unknown properties are
// reported too.
func (v *FlowchartValidator) CheckJSON(raw []byte) *schema.ValidationResult {
	result := structural(v.jsonSchema.ValidateFlowchartJSON(raw))
	if !result.Valid() {
		return result
	}
	doc, err := schema.ParseGraphDocument(raw)
	if err != nil {
		result.AddError("/", schema.ErrCodeGraphInvalid, message(err))
		return result
	}
	return v.checkDecoded(doc, result)
}

func (v *FlowchartValidator) checkDecoded(doc *schema.GraphDocument, result *schema.ValidationResult) *schema.ValidationResult {
	result.Merge(validateSemantic(doc, v.checkers))
	if result.Valid() {
		result.Merge(validateGraph(doc))
	}
	return result
}

// CheckTestcases validates decoded testcases.
func (v *FlowchartValidator) CheckTestcases(tcs []schema.Testcase) *schema.ValidationResult {
	result := structural(v.jsonSchema.ValidateTestcases(tcs))
	if !result.Valid() {
		return result
	}
	result.Merge(validateTestcasesSemantic(tcs))
	return result
}

// CheckTestcasesJSON validates a raw JSON list of testcases.
func (v *FlowchartValidator) CheckTestcasesJSON(raw []byte) *schema.ValidationResult {
	result := structural(v.jsonSchema.ValidateTestcasesJSON(raw))
	if !result.Valid() {
		return result
	}
	var tcs []schema.Testcase
	if err := json.Unmarshal(raw, &tcs); err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	result.Merge(validateTestcasesSemantic(tcs))
	return result
}

// ValidateFlowchart satisfies the Validator interface.
func (v *FlowchartValidator) ValidateFlowchart(doc *schema.GraphDocument) error {
	return v.Check(doc).ToError()
}

// ValidateTestcases satisfies the Validator interface.
func (v *FlowchartValidator) ValidateTestcases(tcs []schema.Testcase) error {
	return v.CheckTestcases(tcs).ToError()
}

// structural turns a schema validation error into a ValidationResult.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}
	fe := schema.AsFlowError(err, schema.ErrCodeValidation)
	if violations, ok := fe.Details["violations"].([]violation); ok {
		for _, vi := range violations {
			result.AddError(vi.Path, schema.ErrCodeValidation, vi.Message)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}

// validateGraph hydrates the document and warns about nodes that are never
// executed or can never finish.
func validateGraph(doc *schema.GraphDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	f, err := graph.FromDocument(doc)
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeGraphInvalid)
		path := "/"
		if fe.NodeID != "" {
			path = "/nodes/" + fe.NodeID
		}
		result.AddError(path, fe.Code, fe.Message)
		return result
	}

	for _, n := range f.Nodes() {
		if n.Kind.Structural() {
			continue
		}
		if !f.Reachable(f.StartID(), n.ID) {
			result.AddWarning("/nodes/"+n.ID, schema.ErrCodeGraphInvalid,
				fmt.Sprintf("node %s is not reachable from start", n.ID))
			continue
		}
		if !f.Reachable(n.ID, f.EndID()) {
			result.AddWarning("/nodes/"+n.ID, schema.ErrCodeGraphInvalid,
				fmt.Sprintf("node %s has no path to end", n.ID))
		}
	}
	return result
}
