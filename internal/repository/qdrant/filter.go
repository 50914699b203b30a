package qdrant

import (
	"math"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
)

// convert translates node into a Qdrant filter. ok is false when some part
// has no equivalent with the same result: string ordering, list equality,
// mappings, or ordering on a field not declared numeric (a range over a
// numeric array matches any element).
func (r *Repo) convert(node filter.Node) (*qdrant.Filter, bool) {
	if node == nil {
		return nil, true
	}
	c, ok := r.condition(node)
	if !ok {
		return nil, false
	}
	if f := c.GetFilter(); f != nil {
		return f, true
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{c}}, true
}

func (r *Repo) condition(node filter.Node) (*qdrant.Condition, bool) {
	switch n := node.(type) {
	case *filter.Logical:
		return r.logical(n)
	case *filter.Comparison:
		return r.comparison(n)
	}
	return nil, false
}

func (r *Repo) logical(n *filter.Logical) (*qdrant.Condition, bool) {
	conds := make([]*qdrant.Condition, 0, len(n.Children))
	for _, child := range n.Children {
		c, ok := r.condition(child)
		if !ok {
			return nil, false
		}
		conds = append(conds, c)
	}

	switch n.Op {
	case filter.And:
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Must: conds}), true
	case filter.Or:
		if len(conds) == 0 {
			return nil, false
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Should: conds}), true
	case filter.Not:
		if len(conds) != 1 {
			return nil, false
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{MustNot: conds}), true
	}
	return nil, false
}

func (r *Repo) comparison(c *filter.Comparison) (*qdrant.Condition, bool) {
	if strings.ContainsAny(c.Field, ".[]") {
		// Qdrant reads these as nested paths.
		return nil, false
	}
	key := payloadMeta + "." + c.Field

	switch c.Op {
	case filter.Eq:
		return match(key, c.Value)
	case filter.In:
		values, _ := c.Value.([]any)
		if len(values) == 0 {
			return nil, false
		}
		conds := make([]*qdrant.Condition, 0, len(values))
		for _, v := range values {
			m, ok := match(key, v)
			if !ok {
				return nil, false
			}
			conds = append(conds, m)
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Should: conds}), true
	}

	f, declared := r.fields.Lookup(c.Field)
	if !declared || f.FieldType() != field.Numeric {
		return nil, false
	}
	n, ok := finite(c.Value)
	if !ok {
		return nil, false
	}
	rng := &qdrant.Range{}
	switch c.Op {
	case filter.Gt:
		rng.Gt = &n
	case filter.Gte:
		rng.Gte = &n
	case filter.Lt:
		rng.Lt = &n
	case filter.Lte:
		rng.Lte = &n
	default:
		return nil, false
	}
	return qdrant.NewRange(key, rng), true
}

// match builds an equality condition. Keyword and bool matches also hit
// array elements, as does a degenerate numeric range, which mirrors
// membership for list-valued metadata.
func match(key string, v any) (*qdrant.Condition, bool) {
	switch t := v.(type) {
	case string:
		return qdrant.NewMatchKeyword(key, t), true
	case bool:
		return qdrant.NewMatchBool(key, t), true
	}
	n, ok := finite(v)
	if !ok {
		return nil, false
	}
	return qdrant.NewRange(key, &qdrant.Range{Gte: &n, Lte: &n}), true
}

func finite(v any) (float64, bool) {
	n, ok := filter.ToNumber(v)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
