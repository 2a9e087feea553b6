package grading

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rendis/flowlab/internal/expressions"
	"github.com/rendis/flowlab/pkg/schema"
)

// Comparator policy names.
const (
	PolicyExact   = "exact"
	PolicyTrim    = "trim"
	PolicyNumeric = "numeric"
	PolicyJSON    = "json"
	PolicyRegex   = "regex"
	PolicyJQ      = "jq"
)

// DefaultTolerance is the numeric policy tolerance when a testcase sets none.
const DefaultTolerance = 1e-9

type compareFunc func(ctx context.Context, c *OutputComparator, expected, actual any, tol float64) (bool, error)

var policies = map[string]compareFunc{
	PolicyExact:   compareExact,
	PolicyTrim:    compareTrim,
	PolicyNumeric: compareNumeric,
	PolicyJSON:    compareJSON,
	PolicyRegex:   compareRegex,
	PolicyJQ:      compareJQ,
}

// Policies lists the supported comparator names.
func Policies() []string {
	out := make([]string, 0, len(policies))
	for name := range policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OutputComparator compares produced output against expected values under a
// named policy. A mismatch is reported as false; an error means the
// comparison itself could not be made (unknown policy, bad pattern, failing
// jq program). Safe for concurrent use.
type OutputComparator struct {
	jq *expressions.GoJQEngine

	mu      sync.RWMutex
	regexes map[string]*regexp.Regexp
}

// NewOutputComparator creates a comparator. A nil jq engine gets a fresh one.
func NewOutputComparator(jq *expressions.GoJQEngine) *OutputComparator {
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	return &OutputComparator{jq: jq, regexes: make(map[string]*regexp.Regexp)}
}

// Compare reports whether actual matches expected element-wise. Lists of
// different length never match. An empty policy reads as exact; a
// non-positive tolerance reads as DefaultTolerance.
func (c *OutputComparator) Compare(ctx context.Context, policy string, tolerance float64, expected, actual []any) (bool, error) {
	policy = strings.ToLower(strings.TrimSpace(policy))
	if policy == "" {
		policy = PolicyExact
	}
	fn, ok := policies[policy]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeComparator, "unknown comparator %q", policy).
			WithDetails(map[string]any{"supported": Policies()})
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	if len(expected) != len(actual) {
		return false, nil
	}
	for i := range expected {
		match, err := c.compareValue(ctx, fn, expected[i], actual[i], tolerance)
		if err != nil || !match {
			return false, err
		}
	}
	return true, nil
}

// compareValue descends into nested lists before applying the policy.
func (c *OutputComparator) compareValue(ctx context.Context, fn compareFunc, expected, actual any, tol float64) (bool, error) {
	if el, ok := expected.([]any); ok {
		al, ok := decodeJSONString(actual).([]any)
		if !ok || len(al) != len(el) {
			return false, nil
		}
		for i := range el {
			match, err := c.compareValue(ctx, fn, el[i], al[i], tol)
			if err != nil || !match {
				return false, err
			}
		}
		return true, nil
	}
	return fn(ctx, c, expected, actual, tol)
}

// compareExact compares canonical JSON forms. A textual actual value is read
// as JSON when the expected value is not itself a string.
func compareExact(_ context.Context, _ *OutputComparator, expected, actual any, _ float64) (bool, error) {
	if s, ok := expected.(string); ok {
		return s == expressions.Format(actual), nil
	}
	return canonicalEqual(expected, decodeJSONString(actual))
}

func compareTrim(_ context.Context, _ *OutputComparator, expected, actual any, _ float64) (bool, error) {
	return strings.TrimSpace(expressions.Format(expected)) == strings.TrimSpace(expressions.Format(actual)), nil
}

func compareNumeric(_ context.Context, _ *OutputComparator, expected, actual any, tol float64) (bool, error) {
	e, ok := toFloat(expected)
	if !ok {
		return false, nil
	}
	a, ok := toFloat(actual)
	if !ok {
		return false, nil
	}
	return math.Abs(e-a) <= tol, nil
}

// compareJSON decodes both sides when they hold JSON text and compares the
// canonical forms.
func compareJSON(_ context.Context, _ *OutputComparator, expected, actual any, _ float64) (bool, error) {
	return canonicalEqual(decodeJSONString(expected), decodeJSONString(actual))
}

func compareRegex(_ context.Context, c *OutputComparator, expected, actual any, _ float64) (bool, error) {
	re, err := c.regex(expressions.Format(expected))
	if err != nil {
		return false, err
	}
	return re.MatchString(expressions.Format(actual)), nil
}

// compareJQ runs the expected jq program with the actual value as input. The
// first result decides.
func compareJQ(ctx context.Context, c *OutputComparator, expected, actual any, _ float64) (bool, error) {
	results, err := c.jq.Run(ctx, expressions.Format(expected), decodeJSONString(actual))
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	return expressions.Truthy(results[0]), nil
}

func (c *OutputComparator) regex(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.regexes[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeComparator, "invalid pattern %q: %s", pattern, err.Error()).
			WithCause(err)
	}
	c.mu.Lock()
	c.regexes[pattern] = re
	c.mu.Unlock()
	return re, nil
}

// canonicalEqual compares the JSON encodings of the normalized values;
// encoding/json writes object keys sorted.
func canonicalEqual(a, b any) (bool, error) {
	ea, err := json.Marshal(expressions.Normalize(a))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeComparator, "cannot encode expected value: %s", err.Error()).WithCause(err)
	}
	eb, err := json.Marshal(expressions.Normalize(b))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeComparator, "cannot encode actual value: %s", err.Error()).WithCause(err)
	}
	return string(ea) == string(eb), nil
}

func toFloat(v any) (float64, bool) {
	switch t := expressions.Normalize(v).(type) {
	case int:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
