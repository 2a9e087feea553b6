package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/pkg/schema"
)

// InputRequest describes the value an Input node asks for.
type InputRequest struct {
	NodeID   string
	Variable string
	Prompt   string
	Type     string
}

// InputProvider supplies values to Input nodes. Next returns an INPUT_MISSING
// FlowError when no value is left.
type InputProvider interface {
	Next(ctx context.Context, req InputRequest) (any, error)
}

// Seeker is implemented by providers whose read position can be saved in an
// ExecutorState and restored later.
type Seeker interface {
	Position() int
	Seek(pos int)
}

var (
	intPattern   = regexp.MustCompile(`^[+-]?\d+$`)
	floatPattern = regexp.MustCompile(`^[+-]?(\d+\.\d*|\.\d+|\d+)([eE][+-]?\d+)?$`)
)

// ParseScalar turns textual input into a typed value: integers become int,
// decimals float64, "true"/"false" bool; anything else stays a string.
// Non-string values are normalized and returned unchanged.
func ParseScalar(v any) any {
	s, ok := v.(string)
	if !ok {
		return expressions.Normalize(v)
	}
	t := strings.TrimSpace(s)
	switch {
	case intPattern.MatchString(t):
		if i, err := strconv.Atoi(t); err == nil {
			return i
		}
	case floatPattern.MatchString(t):
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return expressions.Normalize(f)
		}
	case t == "true":
		return true
	case t == "false":
		return false
	}
	return s
}

func inputMissing(req InputRequest) error {
	return schema.NewErrorf(schema.ErrCodeInputMissing, "no input left for %s", req.Variable).
		WithNode(req.NodeID).
		WithDetails(map[string]any{"variable": req.Variable, "prompt": req.Prompt})
}

// QueueInput hands out a fixed sequence of values in order, whatever variable
// asks for them.
type QueueInput struct {
	mu        sync.Mutex
	values    []any
	pos       int
	normalize bool
}

// NewQueueInput returns a provider over values, used as given.
func NewQueueInput(values []any) *QueueInput {
	return &QueueInput{values: append([]any(nil), values...)}
}

// NewNormalizingQueue returns a provider that runs every value through
// ParseScalar before handing it out.
func NewNormalizingQueue(values []any) *QueueInput {
	q := NewQueueInput(values)
	q.normalize = true
	return q
}

// Next returns the next queued value.
func (q *QueueInput) Next(_ context.Context, req InputRequest) (any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pos >= len(q.values) {
		return nil, inputMissing(req)
	}
	v := q.values[q.pos]
	q.pos++
	if q.normalize {
		return ParseScalar(v), nil
	}
	return expressions.Normalize(v), nil
}

// Remaining returns how many values are left.
func (q *QueueInput) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.values) - q.pos
}

// Position returns how many values were consumed.
func (q *QueueInput) Position() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pos
}

// Seek moves the read position, clamped to the queue bounds.
func (q *QueueInput) Seek(pos int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pos = min(max(pos, 0), len(q.values))
}

// KeyedInput serves one queue per variable name, with an optional shared
// fallback queue for variables that have none.
type KeyedInput struct {
	queues   map[string]*QueueInput
	fallback *QueueInput
}

// NewKeyedInput builds a provider from per-variable value lists. fallback
// may be nil.
func NewKeyedInput(values map[string][]any, fallback []any) *KeyedInput {
	k := &KeyedInput{queues: make(map[string]*QueueInput, len(values))}
	for name, vs := range values {
		k.queues[name] = NewNormalizingQueue(vs)
	}
	if fallback != nil {
		k.fallback = NewNormalizingQueue(fallback)
	}
	return k
}

// Next pulls from the queue of req.Variable, then from the fallback.
func (k *KeyedInput) Next(ctx context.Context, req InputRequest) (any, error) {
	if q, ok := k.queues[req.Variable]; ok && q.Remaining() > 0 {
		return q.Next(ctx, req)
	}
	if k.fallback != nil {
		return k.fallback.Next(ctx, req)
	}
	return nil, inputMissing(req)
}

// noInput is used when an executor was built without an input provider.
type noInput struct{}

func (noInput) Next(_ context.Context, req InputRequest) (any, error) {
	return nil, inputMissing(req)
}
