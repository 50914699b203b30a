package filter

import (
	"encoding/json"
	"math"
	"strings"
)

// Matches evaluates n against a metadata mapping. Missing fields and
// incomparable types are non-matches, never errors.
func Matches(n Node, meta map[string]any) bool {
	switch t := n.(type) {
	case nil:
		return true
	case *Logical:
		return t.matches(meta)
	case *Comparison:
		return t.matches(meta)
	}
	return false
}

func (l *Logical) matches(meta map[string]any) bool {
	switch l.Op {
	case And:
		for _, c := range l.Children {
			if !Matches(c, meta) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range l.Children {
			if Matches(c, meta) {
				return true
			}
		}
		return false
	case Not:
		if len(l.Children) != 1 {
			return false
		}
		return !Matches(l.Children[0], meta)
	}
	return false
}

func (c *Comparison) matches(meta map[string]any) bool {
	actual, ok := meta[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case Eq:
		if target, isList := c.Value.([]any); isList {
			got, ok := asList(actual)
			return ok && listsEqual(got, target)
		}
		if got, isList := asList(actual); isList {
			return containsValue(got, c.Value)
		}
		return valuesEqual(actual, c.Value)

	case In:
		targets, _ := c.Value.([]any)
		if got, isList := asList(actual); isList {
			for _, g := range got {
				if containsValue(targets, g) {
					return true
				}
			}
			return false
		}
		return containsValue(targets, actual)

	case Gt, Gte, Lt, Lte:
		cmp, ok := compareValues(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case Gt:
			return cmp > 0
		case Gte:
			return cmp >= 0
		case Lt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func containsValue(list []any, v any) bool {
	for _, el := range list {
		if valuesEqual(el, v) {
			return true
		}
	}
	return false
}

func listsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// valuesEqual compares scalars: numbers by value across Go numeric kinds,
// strings and bools exactly. Mixed kinds are never equal.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := ToNumber(a); ok {
		bn, ok := ToNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	if al, ok := asList(a); ok {
		bl, ok := asList(b)
		return ok && listsEqual(al, bl)
	}
	return false
}

// compareValues orders numeric-numeric or string-string pairs (byte-wise).
func compareValues(a, b any) (int, bool) {
	if an, ok := ToNumber(a); ok {
		bn, ok := ToNumber(b)
		if !ok || math.IsNaN(an) || math.IsNaN(bn) {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// ToNumber converts any Go numeric kind or json.Number to float64. Bools are not numbers.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
