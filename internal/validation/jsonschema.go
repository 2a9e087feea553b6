package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowlab/pkg/schema"
)

const (
	flowchartSchemaURL = "https://flowlab.dev/schemas/flowchart.json"
	testcasesSchemaURL = "https://flowlab.dev/schemas/testcases.json"
)

// flowchartSchemaJSON describes the serialized graph document. Kind names,
// edge endpoints and reachability are semantic checks.
const flowchartSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowlab.dev/schemas/flowchart.json",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 2,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "limits": { "$ref": "#/$defs/limits" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "data": { "type": "object" },
        "position": {},
        "incomingEdgeIds": { "$ref": "#/$defs/ids" },
        "outgoingEdgeIds": { "$ref": "#/$defs/ids" },
        "loopEdge": { "type": "string" },
        "loopExitEdge": { "type": "string" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "condition": {
          "type": "string",
          "pattern": "^(?i)\\s*(auto|true|false|next|done)?\\s*$"
        }
      },
      "additionalProperties": false
    },
    "ids": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "limits": {
      "type": "object",
      "properties": {
        "maxSteps": { "type": "integer", "minimum": 0 },
        "maxTimeMs": { "type": "integer", "minimum": 0 },
        "maxLoopIterationsPerNode": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// testcasesSchemaJSON describes a list of testcase documents. Value lists
// may be arrays or strings holding an array; their content is checked
// semantically.
const testcasesSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowlab.dev/schemas/testcases.json",
  "type": "array",
  "items": { "$ref": "#/$defs/testcase" },
  "$defs": {
    "testcase": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "labId": { "type": "string" },
        "inputs": { "$ref": "#/$defs/list" },
        "expectedOutputs": { "$ref": "#/$defs/list" },
        "hiddenInputs": { "$ref": "#/$defs/list" },
        "hiddenExpectedOutputs": { "$ref": "#/$defs/list" },
        "score": { "type": "number", "minimum": 0 },
        "comparator": { "type": "string" },
        "tolerance": { "type": "number", "exclusiveMinimum": 0 }
      },
      "additionalProperties": false
    },
    "list": { "type": ["array", "string", "null"] }
  }
}`

// JSONSchemaValidator checks flowchart and testcase documents against their
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	flowchartSchema *jsonschema.Schema
	testcasesSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	fc, err := compile(c, flowchartSchemaURL, flowchartSchemaJSON)
	if err != nil {
		return nil, err
	}
	tc, err := compile(c, testcasesSchemaURL, testcasesSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &JSONSchemaValidator{flowchartSchema: fc, testcasesSchema: tc}, nil
}

func compile(c *jsonschema.Compiler, url, src string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return s, nil
}

// ValidateFlowchartJSON validates a raw flowchart document.
func (v *JSONSchemaValidator) ValidateFlowchartJSON(raw []byte) error {
	return validateRaw(v.flowchartSchema, raw)
}

// ValidateFlowchart validates a decoded flowchart document.
func (v *JSONSchemaValidator) ValidateFlowchart(doc *schema.GraphDocument) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "flowchart document is nil")
	}
	return validateValue(v.flowchartSchema, doc)
}

// ValidateTestcasesJSON validates a raw JSON list of testcases.
func (v *JSONSchemaValidator) ValidateTestcasesJSON(raw []byte) error {
	return validateRaw(v.testcasesSchema, raw)
}

// ValidateTestcases validates decoded testcases.
func (v *JSONSchemaValidator) ValidateTestcases(tcs []schema.Testcase) error {
	if tcs == nil {
		tcs = []schema.Testcase{}
	}
	return validateValue(v.testcasesSchema, tcs)
}

func validateRaw(s *jsonschema.Schema, raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "malformed JSON: %s", err.Error()).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

func validateValue(s *jsonschema.Schema, v any) error {
	doc, err := toJSONValue(v)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize document").WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// violation is one leaf schema failure.
type violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v violation) String() string {
	return v.Path + ": " + v.Message
}

// toFlowError converts a jsonschema.ValidationError into a FlowError whose
// details list every leaf violation.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	msg := violations[0].String()
	if len(violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects the leaves
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		return []violation{{Path: "/" + strings.Join(verr.InstanceLocation, "/"), Message: verr.Error()}}
	}
	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
