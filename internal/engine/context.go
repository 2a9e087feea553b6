package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/pkg/schema"
)

// Variable type names.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeString = "string"
	TypeArray  = "array"
	TypeObject = "object"
)

// Variable is one named binding of a Context.
type Variable struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// Context is the per-execution state: ordered, name-unique variables and an
// append-only output log. It is not safe for concurrent use.
type Context struct {
	vars   []Variable
	output []string
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{}
}

// InferType derives the type name of a runtime value. nil reads as int.
func InferType(v any) string {
	switch expressions.Normalize(v).(type) {
	case nil, int:
		return TypeInt
	case float64:
		return TypeFloat
	case bool:
		return TypeBool
	case string:
		return TypeString
	case []any:
		return TypeArray
	}
	return TypeObject
}

// NormalizeType maps the spellings found in node payloads onto the canonical
// type names. Unknown or empty names return "".
func NormalizeType(typ string) string {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "int", "integer", "long":
		return TypeInt
	case "float", "double", "real", "number", "decimal":
		return TypeFloat
	case "bool", "boolean":
		return TypeBool
	case "string", "str", "text", "char":
		return TypeString
	case "array", "list":
		return TypeArray
	case "object", "map", "dict":
		return TypeObject
	}
	return ""
}

// ZeroValue returns the value an uninitialized declaration of typ receives.
func ZeroValue(typ string) any {
	switch NormalizeType(typ) {
	case TypeFloat:
		return 0.0
	case TypeBool:
		return false
	case TypeString:
		return ""
	case TypeArray:
		return []any{}
	case TypeObject:
		return map[string]any{}
	case TypeInt:
		return 0
	}
	return nil
}

// Coerce converts v to the declared type. An empty type keeps v as is.
func Coerce(v any, typ string) (any, error) {
	v = expressions.Normalize(v)
	target := NormalizeType(typ)
	if target == "" || v == nil {
		return v, nil
	}

	fail := func() (any, error) {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "cannot convert %s to %s",
			expressions.Format(v), target)
	}

	switch target {
	case TypeInt:
		switch t := v.(type) {
		case int:
			return t, nil
		case float64:
			return int(t), nil
		case bool:
			if t {
				return 1, nil
			}
			return 0, nil
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return i, nil
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return int(f), nil
			}
		}
		return fail()
	case TypeFloat:
		switch t := v.(type) {
		case int:
			return float64(t), nil
		case float64:
			return t, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f, nil
			}
		}
		return fail()
	case TypeBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, nil
			}
		}
		return expressions.Truthy(v), nil
	case TypeString:
		return expressions.Format(v), nil
	case TypeArray:
		if t, ok := v.([]any); ok {
			return t, nil
		}
		return fail()
	case TypeObject:
		if t, ok := v.(map[string]any); ok {
			return t, nil
		}
		return fail()
	}
	return v, nil
}

// Get returns the value bound to name.
func (c *Context) Get(name string) (any, bool) {
	if i := c.index(name); i >= 0 {
		return c.vars[i].Value, true
	}
	return nil, false
}

// Has reports whether name is bound.
func (c *Context) Has(name string) bool {
	return c.index(name) >= 0
}

// Declare binds name with an explicit type, keeping the position of an
// existing binding. An empty type is inferred from the value.
func (c *Context) Declare(name string, value any, typ string) {
	value = expressions.Normalize(value)
	if t := NormalizeType(typ); t != "" {
		typ = t
	} else {
		typ = InferType(value)
	}
	v := Variable{Name: name, Value: value, Type: typ}
	if i := c.index(name); i >= 0 {
		c.vars[i] = v
		return
	}
	c.vars = append(c.vars, v)
}

// Set rebinds name, inferring the type from the new value. An unbound name is
// declared. A float variable stays float when it receives an integral number.
func (c *Context) Set(name string, value any) {
	typ := ""
	if i := c.index(name); i >= 0 && c.vars[i].Type == TypeFloat && InferType(value) == TypeInt {
		typ = TypeFloat
	}
	c.Declare(name, value, typ)
}

// Delete removes a binding.
func (c *Context) Delete(name string) {
	if i := c.index(name); i >= 0 {
		c.vars = append(c.vars[:i:i], c.vars[i+1:]...)
	}
}

// Variables returns a copy of the bindings in declaration order.
func (c *Context) Variables() []Variable {
	out := make([]Variable, len(c.vars))
	copy(out, c.vars)
	return out
}

// Values returns the bindings as an expression environment.
func (c *Context) Values() map[string]any {
	m := make(map[string]any, len(c.vars))
	for _, v := range c.vars {
		m[v.Name] = v.Value
	}
	return m
}

// Print appends a line to the output log.
func (c *Context) Print(line string) {
	c.output = append(c.output, line)
}

// Output returns a copy of the output log.
func (c *Context) Output() []string {
	return append([]string{}, c.output...)
}

// OutputLen returns the number of produced lines.
func (c *Context) OutputLen() int {
	return len(c.output)
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	out := &Context{
		vars:   make([]Variable, len(c.vars)),
		output: append([]string(nil), c.output...),
	}
	for i, v := range c.vars {
		v.Value = deepCopy(v.Value)
		out.vars[i] = v
	}
	return out
}

// Snapshot returns the wire form of the context.
func (c *Context) Snapshot() schema.ContextSnapshot {
	vars := make([]schema.VariableSnapshot, len(c.vars))
	for i, v := range c.vars {
		vars[i] = schema.VariableSnapshot{Name: v.Name, Value: deepCopy(v.Value), Type: v.Type}
	}
	return schema.ContextSnapshot{Variables: vars, Output: c.Output()}
}

// contextJSON is the serialized form of a Context.
type contextJSON struct {
	Variables []Variable `json:"variables"`
	Output    []string   `json:"output"`
}

func (c *Context) MarshalJSON() ([]byte, error) {
	vars := c.vars
	if vars == nil {
		vars = []Variable{}
	}
	return json.Marshal(contextJSON{Variables: vars, Output: c.Output()})
}

func (c *Context) UnmarshalJSON(b []byte) error {
	var raw contextJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.vars = c.vars[:0]
	for _, v := range raw.Variables {
		v.Value = expressions.Normalize(v.Value)
		c.vars = append(c.vars, v)
	}
	c.output = raw.Output
	return nil
}

func (c *Context) index(name string) int {
	for i, v := range c.vars {
		if v.Name == name {
			return i
		}
	}
	return -1
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	}
	return v
}
