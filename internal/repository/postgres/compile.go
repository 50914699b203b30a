package postgres

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/docstore/internal/domain/filter"
)

// where compiles filter trees into SQL boolean expressions over a JSONB
// column, collecting positional arguments as it goes. Every expression it
// produces is NULL-free so NOT keeps missing-field semantics.
type where struct {
	column string
	args   []any
}

func newWhere(column string, args ...any) *where {
	return &where{column: column, args: args}
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

// compile returns ok=false when node holds a value SQL cannot compare the
// way in-process evaluation does (mappings, NaN or infinite numbers).
func (w *where) compile(node filter.Node) (string, bool) {
	if node == nil {
		return "TRUE", true
	}
	switch n := node.(type) {
	case *filter.Logical:
		return w.logical(n)
	case *filter.Comparison:
		return w.comparison(n)
	}
	return "", false
}

func (w *where) logical(n *filter.Logical) (string, bool) {
	parts := make([]string, 0, len(n.Children))
	for _, child := range n.Children {
		q, ok := w.compile(child)
		if !ok {
			return "", false
		}
		parts = append(parts, q)
	}

	switch n.Op {
	case filter.And:
		if len(parts) == 0 {
			return "TRUE", true
		}
		return "(" + strings.Join(parts, " AND ") + ")", true
	case filter.Or:
		if len(parts) == 0 {
			return "FALSE", true
		}
		return "(" + strings.Join(parts, " OR ") + ")", true
	case filter.Not:
		if len(parts) != 1 {
			return "FALSE", true
		}
		return "(NOT " + parts[0] + ")", true
	}
	return "", false
}

func (w *where) comparison(c *filter.Comparison) (string, bool) {
	key := w.arg(c.Field)
	value := w.column + "->" + key

	switch c.Op {
	case filter.Eq:
		if !jsonComparable(c.Value, true) {
			return "", false
		}
		raw, err := json.Marshal(c.Value)
		if err != nil {
			return "", false
		}
		if _, isList := c.Value.([]any); isList {
			return "COALESCE(" + value + " = " + w.arg(string(raw)) + "::jsonb, false)", true
		}
		// Containment also matches a scalar inside a list-valued field.
		return "COALESCE(" + value + " @> " + w.arg(string(raw)) + "::jsonb, false)", true

	case filter.In:
		targets, _ := c.Value.([]any)
		for _, t := range targets {
			if !jsonComparable(t, false) {
				return "", false
			}
		}
		raw, err := json.Marshal(targets)
		if err != nil {
			return "", false
		}
		return "EXISTS (SELECT 1 FROM jsonb_array_elements(" + w.arg(string(raw)) +
			"::jsonb) AS t(v) WHERE " + value + " @> t.v)", true

	case filter.Gt, filter.Gte, filter.Lt, filter.Lte:
		return w.ordering(c, key, value)
	}
	return "", false
}

func (w *where) ordering(c *filter.Comparison, key, value string) (string, bool) {
	op := map[filter.CompareOp]string{filter.Gt: ">", filter.Gte: ">=", filter.Lt: "<", filter.Lte: "<="}[c.Op]
	text := w.column + "->>" + key

	if n, ok := filter.ToNumber(c.Value); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", false
		}
		return "CASE WHEN jsonb_typeof(" + value + ") = 'number' THEN (" + text + ")::float8 " +
			op + " " + w.arg(n) + "::float8 ELSE false END", true
	}
	if s, ok := c.Value.(string); ok {
		return "CASE WHEN jsonb_typeof(" + value + ") = 'string' THEN (" + text + `) COLLATE "C" ` +
			op + " " + w.arg(s) + "::text ELSE false END", true
	}
	// Only number-number and string-string pairs are ordered.
	return "FALSE", true
}

// jsonComparable reports whether v has the same equality in JSONB as in-process.
func jsonComparable(v any, allowList bool) bool {
	switch t := v.(type) {
	case nil, string, bool:
		return true
	case []any:
		if !allowList {
			return false
		}
		for _, el := range t {
			if !jsonComparable(el, true) {
				return false
			}
		}
		return true
	}
	n, ok := filter.ToNumber(v)
	return ok && !math.IsNaN(n) && !math.IsInf(n, 0)
}
