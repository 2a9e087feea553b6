package expressions

import (
	"context"
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// HasTemplate reports whether s contains a ${{ }} reference.
func HasTemplate(s string) bool {
	return strings.Contains(s, "${{")
}

// Render replaces each ${{ expression }} in tmpl with the formatted result of
// evaluating the expression with eng against data. Text outside the markers
// is kept verbatim.
func Render(ctx context.Context, eng Engine, tmpl string, data map[string]any) (string, error) {
	var out strings.Builder
	out.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		idx := strings.Index(tmpl[i:], "${{")
		if idx == -1 {
			out.WriteString(tmpl[i:])
			break
		}
		out.WriteString(tmpl[i : i+idx])
		start := i + idx + 3

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeHandler, "unclosed ${{ in template").
				WithDetails(map[string]any{"template": tmpl})
		}
		end += start

		src := strings.TrimSpace(tmpl[start:end])
		if strings.Contains(src, "${{") {
			return "", schema.NewError(schema.ErrCodeHandler, "nested ${{ is not allowed in templates").
				WithDetails(map[string]any{"template": tmpl})
		}
		if src == "" {
			return "", schema.NewError(schema.ErrCodeHandler, "empty ${{ }} reference").
				WithDetails(map[string]any{"template": tmpl})
		}

		val, err := eng.Evaluate(ctx, src, data)
		if err != nil {
			return "", err
		}
		out.WriteString(Format(val))
		i = end + 2
	}
	return out.String(), nil
}
