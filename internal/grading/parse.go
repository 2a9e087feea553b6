package grading

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/pkg/schema"
)

// ParseList decodes a testcase value list. raw is either a JSON array or a
// JSON string whose content is a JSON array. An absent value is an empty
// list. Numbers are normalized.
func ParseList(raw json.RawMessage) ([]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	v, err := decode(trimmed)
	if err != nil {
		return nil, malformed(err)
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		if v, err = decode([]byte(s)); err != nil {
			return nil, malformed(err)
		}
	}

	list, ok := v.([]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "expected a JSON array, got %T", v)
	}
	return list, nil
}

func decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, schema.NewError(schema.ErrCodeValidation, "trailing data after JSON value")
	}
	return expressions.Normalize(v), nil
}

func malformed(err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "malformed JSON list: %s", err.Error()).WithCause(err)
}

// decodeJSONString returns the decoded JSON value of s when s holds one,
// otherwise s itself.
func decodeJSONString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	decoded, err := decode([]byte(t))
	if err != nil {
		return s
	}
	return decoded
}

// Chunk returns n output lines starting at offset, fewer when the output is
// shorter.
func Chunk(output []string, offset, n int) []any {
	if offset < 0 {
		offset = 0
	}
	if offset > len(output) {
		offset = len(output)
	}
	end := offset + n
	if end > len(output) {
		end = len(output)
	}
	out := make([]any, 0, end-offset)
	for _, line := range output[offset:end] {
		out = append(out, line)
	}
	return out
}
