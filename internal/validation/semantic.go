package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/flowlab/internal/actions"
	"github.com/rendis/flowlab/internal/engine"
	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/internal/grading"
	"github.com/rendis/flowlab/internal/graph"
	"github.com/rendis/flowlab/pkg/schema"
)

// checkers compile payload expressions without running them.
type checkers struct {
	exprs   *expressions.ExprEngine
	guards  *expressions.CELEngine
	actions ActionLookup
}

// validateSemantic checks what the schema cannot express: kinds, id
// uniqueness, the Start/End pair, edge endpoints and conditions, required
// payload keys, and that every expression compiles.
func validateSemantic(doc *schema.GraphDocument, c *checkers) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(doc.Nodes))
	starts, ends := 0, 0
	for i, nd := range doc.Nodes {
		path := fmt.Sprintf("/nodes/%d", i)
		if ids[nd.ID] {
			result.AddErrorf(path+"/id", schema.ErrCodeGraphInvalid, "duplicate node id %q", nd.ID)
			continue
		}
		ids[nd.ID] = true

		kind, err := graph.ParseKind(nd.Type)
		if err != nil {
			result.AddErrorf(path+"/type", schema.ErrCodeGraphInvalid, "unknown node type %q", nd.Type)
			continue
		}
		switch kind {
		case graph.KindStart:
			starts++
		case graph.KindEnd:
			ends++
		}

		n, err := graph.NewNode(nd.ID, kind, nd.Label, nd.Data)
		if err != nil {
			result.AddError(path+"/data", schema.ErrCodeNodeValidation, schema.AsFlowError(err, schema.ErrCodeNodeValidation).Message)
			continue
		}
		validateNodePayload(n, path+"/data", c, result)
	}

	if starts != 1 {
		result.AddErrorf("/nodes", schema.ErrCodeGraphInvalid, "graph needs exactly one start node, found %d", starts)
	}
	if ends != 1 {
		result.AddErrorf("/nodes", schema.ErrCodeGraphInvalid, "graph needs exactly one end node, found %d", ends)
	}

	edgeIDs := make(map[string]bool, len(doc.Edges))
	for i, ed := range doc.Edges {
		path := fmt.Sprintf("/edges/%d", i)
		if edgeIDs[ed.ID] {
			result.AddErrorf(path+"/id", schema.ErrCodeGraphInvalid, "duplicate edge id %q", ed.ID)
		}
		edgeIDs[ed.ID] = true
		if !ids[ed.Source] {
			result.AddErrorf(path+"/source", schema.ErrCodeGraphInvalid, "edge source %q is not a node", ed.Source)
		}
		if !ids[ed.Target] {
			result.AddErrorf(path+"/target", schema.ErrCodeGraphInvalid, "edge target %q is not a node", ed.Target)
		}
		if _, err := graph.ParseCondition(ed.Condition); err != nil {
			result.AddErrorf(path+"/condition", schema.ErrCodeInvalidCondition, "invalid edge condition %q", ed.Condition)
		}
	}
	return result
}

// validateNodePayload compiles the expressions a node carries.
func validateNodePayload(n *graph.Node, path string, c *checkers, result *schema.ValidationResult) {
	checkExpr := func(key string) {
		if src := n.Str(key); src != "" {
			if err := c.exprs.Check(src); err != nil {
				result.AddErrorf(path+"/"+key, schema.ErrCodeNodeValidation, "%s: %s", key, message(err))
			}
		}
	}
	checkStmt := func(key string) {
		src := n.Str(key)
		if src == "" {
			return
		}
		stmt, err := expressions.ParseStatement(src)
		if err == nil && stmt.Expr != "" {
			err = c.exprs.Check(stmt.Expr)
		}
		if err != nil {
			result.AddErrorf(path+"/"+key, schema.ErrCodeNodeValidation, "%s: %s", key, message(err))
		}
	}
	checkType := func(key string) {
		if typ := n.Str(key); typ != "" && engine.NormalizeType(typ) == "" {
			result.AddErrorf(path+"/"+key, schema.ErrCodeNodeValidation, "unknown variable type %q", typ)
		}
	}

	switch n.Kind {
	case graph.KindDeclare:
		checkType("type")
	case graph.KindAssign:
		if n.Has("value") {
			checkExpr("value")
			break
		}
		stmt, err := expressions.ParseStatement(n.Str("variable"))
		if err != nil || !stmt.IsAssignment() {
			result.AddError(path+"/value", schema.ErrCodeNodeValidation,
				"assign needs a value or a statement such as \"i++\"")
		}
	case graph.KindIf:
		checkExpr("condition")
	case graph.KindFor:
		checkExpr("condition")
		checkStmt("init")
		checkStmt("increment")
	case graph.KindWhile:
		checkExpr("condition")
		checkStmt("increment")
	case graph.KindInput:
		checkType("type")
	case graph.KindOutput:
		checkExpr("expression")
		if n.Has("message") && n.Has("expression") {
			result.AddWarning(path, schema.ErrCodeNodeValidation, "output has both message and expression; message wins")
		}
	case graph.KindBreakpoint:
		if when := n.Str("when"); when != "" && c.guards != nil {
			if err := c.guards.Check(when); err != nil {
				result.AddErrorf(path+"/when", schema.ErrCodeNodeValidation, "when: %s", message(err))
			}
		}
	case graph.KindDo:
		name, _ := actions.ParseInvocation(n.Str("action"))
		switch {
		case name == "":
			result.AddWarning(path+"/action", schema.ErrCodeNodeValidation, "do node has no action")
		case c.actions != nil && !c.actions.Has(name):
			result.AddWarning(path+"/action", schema.ErrCodeNotFound,
				fmt.Sprintf("action %q is not registered and will be skipped", name))
		}
	}
}

// validateTestcasesSemantic checks ids, value lists and comparator settings.
func validateTestcasesSemantic(tcs []schema.Testcase) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	known := make(map[string]bool)
	for _, p := range grading.Policies() {
		known[p] = true
	}

	seen := make(map[string]bool, len(tcs))
	for i, tc := range tcs {
		path := fmt.Sprintf("/%d", i)
		if seen[tc.ID] {
			result.AddErrorf(path+"/id", schema.ErrCodeValidation, "duplicate testcase id %q", tc.ID)
		}
		seen[tc.ID] = true

		lists := map[string][]any{}
		for _, f := range []struct {
			key string
			raw []byte
		}{
			{"inputs", tc.Inputs},
			{"expectedOutputs", tc.ExpectedOutputs},
			{"hiddenInputs", tc.HiddenInputs},
			{"hiddenExpectedOutputs", tc.HiddenExpectedOutputs},
		} {
			list, err := grading.ParseList(f.raw)
			if err != nil {
				result.AddErrorf(path+"/"+f.key, schema.ErrCodeValidation, "%s: %s", f.key, message(err))
				continue
			}
			lists[f.key] = list
		}
		if len(tc.HiddenExpectedOutputs) > 0 && len(tc.HiddenInputs) == 0 {
			result.AddWarning(path+"/hiddenInputs", schema.ErrCodeValidation, "hidden expected outputs without hidden inputs")
		}

		comparator := strings.ToLower(strings.TrimSpace(tc.Comparator))
		if comparator != "" && !known[comparator] {
			result.AddErrorf(path+"/comparator", schema.ErrCodeComparator,
				"unknown comparator %q, want one of %s", tc.Comparator, strings.Join(grading.Policies(), ", "))
			continue
		}
		if tc.Tolerance != nil && comparator != grading.PolicyNumeric {
			result.AddWarning(path+"/tolerance", schema.ErrCodeValidation, "tolerance only applies to the numeric comparator")
		}
		if comparator == grading.PolicyRegex {
			for _, key := range []string{"expectedOutputs", "hiddenExpectedOutputs"} {
				for j, v := range lists[key] {
					if _, err := regexp.Compile(expressions.Format(v)); err != nil {
						result.AddErrorf(fmt.Sprintf("%s/%s/%d", path, key, j), schema.ErrCodeComparator,
							"invalid pattern: %s", err.Error())
					}
				}
			}
		}
		if tc.Score == 0 {
			result.AddWarning(path+"/score", schema.ErrCodeValidation, "testcase awards no score")
		}
	}
	return result
}

func message(err error) string {
	return schema.AsFlowError(err, schema.ErrCodeValidation).Message
}
