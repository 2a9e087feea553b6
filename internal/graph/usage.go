package graph

import (
	"fmt"
	"strings"

	"github.com/rendis/flowlab/pkg/schema"
)

// Usage counts nodes per kind.
type Usage map[NodeKind]int

// Usage returns the current per-kind node counts.
func (f *Flowchart) Usage() Usage {
	u := make(Usage, len(AllKinds))
	for _, n := range f.nodes {
		u[n.Kind]++
	}
	return u
}

// Unlimited marks a kind without a cap in a ShapeQuota.
const Unlimited = -1

// ShapeQuota caps how many nodes of each kind a flowchart may hold. Kinds
// missing from the map are unlimited.
type ShapeQuota map[NodeKind]int

// ParseShapeQuota reads a quota from loose configuration: keys are kind codes
// or names, values are numbers or the string "unlimited".
func ParseShapeQuota(raw map[string]any) (ShapeQuota, error) {
	q := make(ShapeQuota, len(raw))
	for key, v := range raw {
		kind, err := ParseKind(key)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "shape quota: unknown kind %q", key)
		}
		switch t := v.(type) {
		case string:
			if !strings.EqualFold(t, "unlimited") {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "shape quota for %s: %q is not a number", kind, t)
			}
			q[kind] = Unlimited
		case int:
			q[kind] = t
		case int64:
			q[kind] = int(t)
		case float64:
			q[kind] = int(t)
		case nil:
			q[kind] = Unlimited
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "shape quota for %s: unsupported value %v", kind, v)
		}
	}
	return q, nil
}

// Limit returns the cap for kind and whether one applies.
func (q ShapeQuota) Limit(kind NodeKind) (int, bool) {
	max, ok := q[kind]
	if !ok || max < 0 {
		return 0, false
	}
	return max, true
}

// Check reports whether one more node of kind fits under the quota.
func (q ShapeQuota) Check(usage Usage, kind NodeKind) error {
	max, capped := q.Limit(kind)
	if !capped || usage[kind] < max {
		return nil
	}
	return schema.NewError(schema.ErrCodeLimitExceeded, fmt.Sprintf("quota for %s nodes reached (%d)", kind, max)).
		WithDetails(map[string]any{"kind": string(kind), "limit": max, "used": usage[kind]})
}
