package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowlab/pkg/schema"
)

// testcaseFixture is the on-disk testcase file. A bare list of testcases is
// accepted too.
type testcaseFixture struct {
	LabID     string            `json:"lab_id,omitempty"`
	Testcases []schema.Testcase `json:"testcases"`
}

// readDocument reads a JSON or YAML file and returns it as JSON.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		return data, nil
	}
}

// yamlToJSON re-encodes a YAML document as JSON so it can be decoded into
// types that carry json.RawMessage fields.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	v, err := jsonCompatible(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func jsonCompatible(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			c, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml key %v is not a string", k)
			}
			c, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			out[key] = c
		}
		return out, nil
	case []any:
		for i, val := range t {
			c, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}

// loadFlowchart reads a graph document from a JSON or YAML file.
func loadFlowchart(path string) (*schema.GraphDocument, error) {
	raw, err := readDocument(path)
	if err != nil {
		return nil, fmt.Errorf("read flowchart: %w", err)
	}
	doc, err := schema.ParseGraphDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("flowchart %s: %w", path, err)
	}
	return doc, nil
}

// testcaseList returns the JSON list of testcases of a fixture, along with
// its lab id when the fixture is an object.
func testcaseList(raw []byte) (json.RawMessage, string, error) {
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		return raw, "", nil
	}
	var obj struct {
		LabID     string          `json:"lab_id"`
		Testcases json.RawMessage `json:"testcases"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, "", err
	}
	if len(obj.Testcases) == 0 {
		return nil, "", fmt.Errorf("fixture has no testcases key")
	}
	return obj.Testcases, obj.LabID, nil
}

// loadTestcases reads a testcase fixture from a JSON or YAML file.
func loadTestcases(path string) (*testcaseFixture, error) {
	raw, err := readDocument(path)
	if err != nil {
		return nil, fmt.Errorf("read testcases: %w", err)
	}
	list, labID, err := testcaseList(raw)
	if err != nil {
		return nil, fmt.Errorf("testcases %s: %w", path, err)
	}
	fx := &testcaseFixture{LabID: labID}
	if err := json.Unmarshal(list, &fx.Testcases); err != nil {
		return nil, fmt.Errorf("testcases %s: %w", path, err)
	}
	if len(fx.Testcases) == 0 {
		return nil, fmt.Errorf("testcases %s: no testcases", path)
	}
	return fx, nil
}
