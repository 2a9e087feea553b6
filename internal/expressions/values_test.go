package expressions

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, 2, Normalize(2.0))
	assert.Equal(t, 2.5, Normalize(2.5))
	assert.Equal(t, 7, Normalize(int64(7)))
	assert.Equal(t, 3, Normalize(json.Number("3")))
	assert.Equal(t, []any{1, 2.5, map[string]any{"k": 4}},
		Normalize([]any{1.0, 2.5, map[string]any{"k": float32(4)}}))
	assert.Equal(t, "x", Normalize("x"))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{2, "2"},
		{2.0, "2"},
		{0.1, "0.1"},
		{-3.25, "-3.25"},
		{1e21, "1000000000000000000000"},
		{true, "true"},
		{nil, "null"},
		{"hi", "hi"},
		{[]any{1, "a"}, `[1,"a"]`},
		{map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{math.Inf(1), "Infinity"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.in), "%v", tt.in)
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{true, 1, -2.5, "x", []any{0}, map[string]any{"a": 1}} {
		assert.True(t, Truthy(v), "%v", v)
	}
	for _, v := range []any{false, 0, 0.0, "", "false", nil, []any{}, map[string]any{}} {
		assert.False(t, Truthy(v), "%v", v)
	}
}
