package redis

import (
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
)

// compile translates node into a RediSearch query (DIALECT 2). ok is false
// when some part has no native equivalent: an undeclared field, a value of
// the wrong kind for the field type, string ordering or list equality.
func (r *Repo) compile(node filter.Node) (query string, ok bool) {
	if node == nil {
		return "*", true
	}
	return r.compileNode(node)
}

func (r *Repo) compileNode(node filter.Node) (string, bool) {
	switch n := node.(type) {
	case *filter.Logical:
		return r.compileLogical(n)
	case *filter.Comparison:
		return r.compileComparison(n)
	}
	return "", false
}

func (r *Repo) compileLogical(n *filter.Logical) (string, bool) {
	if len(n.Children) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(n.Children))
	for _, child := range n.Children {
		q, ok := r.compileNode(child)
		if !ok {
			return "", false
		}
		parts = append(parts, q)
	}

	switch n.Op {
	case filter.And:
		return "(" + strings.Join(parts, " ") + ")", true
	case filter.Or:
		return "(" + strings.Join(parts, " | ") + ")", true
	case filter.Not:
		if len(parts) != 1 {
			return "", false
		}
		return "-" + parts[0], true
	}
	return "", false
}

func (r *Repo) compileComparison(c *filter.Comparison) (string, bool) {
	f, declared := r.fields.Lookup(c.Field)
	if !declared {
		return "", false
	}
	switch f.FieldType() {
	case field.Tag:
		return compileTag(c)
	case field.Numeric:
		return compileNumeric(c)
	}
	return "", false
}

func compileTag(c *filter.Comparison) (string, bool) {
	switch c.Op {
	case filter.Eq:
		s, ok := c.Value.(string)
		if !ok || !taggable(s) {
			return "", false
		}
		return "@" + c.Field + ":{" + escapeTag(s) + "}", true
	case filter.In:
		values, _ := c.Value.([]any)
		if len(values) == 0 {
			return "", false
		}
		escaped := make([]string, 0, len(values))
		for _, v := range values {
			s, ok := v.(string)
			if !ok || !taggable(s) {
				return "", false
			}
			escaped = append(escaped, escapeTag(s))
		}
		return "@" + c.Field + ":{" + strings.Join(escaped, " | ") + "}", true
	}
	// String ordering has no TAG equivalent.
	return "", false
}

func compileNumeric(c *filter.Comparison) (string, bool) {
	if c.Op == filter.In {
		values, _ := c.Value.([]any)
		if len(values) == 0 {
			return "", false
		}
		parts := make([]string, 0, len(values))
		for _, v := range values {
			n, ok := number(v)
			if !ok {
				return "", false
			}
			parts = append(parts, numericRange(c.Field, n, n))
		}
		return "(" + strings.Join(parts, " | ") + ")", true
	}

	n, ok := number(c.Value)
	if !ok {
		return "", false
	}
	switch c.Op {
	case filter.Eq:
		return numericRange(c.Field, n, n), true
	case filter.Gt:
		return numericRange(c.Field, "("+n, "+inf"), true
	case filter.Gte:
		return numericRange(c.Field, n, "+inf"), true
	case filter.Lt:
		return numericRange(c.Field, "-inf", "("+n), true
	case filter.Lte:
		return numericRange(c.Field, "-inf", n), true
	}
	return "", false
}

func numericRange(fieldName, lo, hi string) string {
	return "@" + fieldName + ":[" + lo + " " + hi + "]"
}

func number(v any) (string, bool) {
	f, ok := filter.ToNumber(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// taggable reports whether s survives TAG indexing unchanged. RediSearch
// trims tag values and never indexes an empty one, so such values are
// matched in process instead.
func taggable(s string) bool {
	return s != "" && strings.TrimSpace(s) == s
}

func escapeTag(s string) string {
	return tagEscaper.Replace(s)
}

var tagEscaper = strings.NewReplacer(
	`\`, `\\`,
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"[", "\\[",
	"]", "\\]",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	"/", "\\/",
	" ", "\\ ",
)
