package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowlab/pkg/schema"
)

func TestParseStatement(t *testing.T) {
	tests := []struct {
		src  string
		want Statement
	}{
		{"i = 0", Statement{Target: "i", Op: "=", Expr: "0"}},
		{"let i = 0;", Statement{Target: "i", Op: "=", Expr: "0"}},
		{"int count=10", Statement{Target: "count", Op: "=", Expr: "10"}},
		{"i++", Statement{Target: "i", Op: "++"}},
		{"--i", Statement{Target: "i", Op: "--"}},
		{"i += 2", Statement{Target: "i", Op: "+=", Expr: "2"}},
		{"i *= k + 1", Statement{Target: "i", Op: "*=", Expr: "k + 1"}},
		{"i == 3", Statement{Expr: "i == 3"}},
		{"i <= 3", Statement{Expr: "i <= 3"}},
		{"i + 1", Statement{Expr: "i + 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ParseStatement(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseStatement("")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	_, err = ParseStatement("i =")
	assert.Error(t, err)
}

func TestStatement_Exec(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"i": 4, "k": 2}

	tests := map[string]any{
		"i++":       5,
		"i--":       3,
		"i += k":    6,
		"i -= 1":    3,
		"i *= k+1":  12,
		"i /= 8":    0.5,
		"i = i * i": 16,
		"i % 3":     1,
	}
	for src, want := range tests {
		st, err := ParseStatement(src)
		require.NoError(t, err, src)
		got, err := st.Exec(context.Background(), e, data)
		require.NoError(t, err, src)
		assert.Equal(t, want, got, src)
	}

	st, err := ParseStatement("j++")
	require.NoError(t, err)
	_, err = st.Exec(context.Background(), e, data)
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
}
