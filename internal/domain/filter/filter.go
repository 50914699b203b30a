// Package filter implements the metadata filter language shared by every backend:
// a raw nested mapping is normalized once into a tree of Logical and Comparison
// nodes, which backends either evaluate in-process with Matches or compile into
// their native query syntax.
package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// LogicalOp combines child expressions.
type LogicalOp string

const (
	// And matches when every child matches.
	And LogicalOp = "$and"
	// Or matches when at least one child matches.
	Or LogicalOp = "$or"
	// Not negates its single child.
	Not LogicalOp = "$not"
)

// CompareOp compares a metadata field against a value.
type CompareOp string

const (
	// Eq is equality (membership for list-valued metadata).
	Eq CompareOp = "$eq"
	// In matches when metadata and the value list intersect.
	In CompareOp = "$in"
	// Gt is strictly greater.
	Gt CompareOp = "$gt"
	// Gte is greater or equal.
	Gte CompareOp = "$gte"
	// Lt is strictly less.
	Lt CompareOp = "$lt"
	// Lte is less or equal.
	Lte CompareOp = "$lte"
)

// IsOrdering reports whether op is one of the range operators.
func (op CompareOp) IsOrdering() bool {
	switch op {
	case Gt, Gte, Lt, Lte:
		return true
	}
	return false
}

func isCompareOp(key string) bool {
	switch CompareOp(key) {
	case Eq, In, Gt, Gte, Lt, Lte:
		return true
	}
	return false
}

// Node is a normalized filter expression. A nil Node matches everything.
// Trees may be shared through Cache and must be treated as read-only.
type Node interface {
	isNode()
}

// Logical is an AND/OR/NOT over ordered children. NOT has exactly one child.
type Logical struct {
	Op       LogicalOp
	Children []Node
}

// Comparison is a leaf: Field Op Value. Value is a scalar, or []any for In
// (and for Eq when list equality is enabled).
type Comparison struct {
	Field string
	Op    CompareOp
	Value any
}

func (*Logical) isNode()    {}
func (*Comparison) isNode() {}

// Fields returns the sorted distinct field names referenced by n.
func Fields(n Node) []string {
	seen := make(map[string]struct{})
	collectFields(n, seen)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func collectFields(n Node, seen map[string]struct{}) {
	switch t := n.(type) {
	case *Logical:
		for _, c := range t.Children {
			collectFields(c, seen)
		}
	case *Comparison:
		seen[t.Field] = struct{}{}
	}
}

// CanonicalKey renders a raw filter deterministically (map keys sorted).
func CanonicalKey(raw map[string]any) string {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%#v", raw)
	}
	return string(b)
}

// asList converts any slice or array value into []any.
func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	// []byte is a scalar blob, not a list of numbers.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
