package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/docstore/internal/domain"
)

// Option tunes normalization.
type Option func(*normalizer)

// WithListEquality makes a list value on a field mean $eq against the whole list
// instead of the default $in sugar. Explicit {"$eq": [...]} is accepted too.
func WithListEquality() Option {
	return func(n *normalizer) { n.listEquality = true }
}

type normalizer struct {
	listEquality bool
}

// Normalize parses a raw filter into a normalized tree. An empty or nil filter
// yields a nil Node. Keys at one level are processed in sorted order, and more
// than one key is wrapped in an implicit $and.
func Normalize(raw map[string]any, opts ...Option) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	n := normalizer{}
	for _, o := range opts {
		o(&n)
	}
	return n.mapping(raw, "")
}

func (n normalizer) mapping(raw map[string]any, path string) (Node, error) {
	if len(raw) == 0 {
		return nil, domain.NewFilterEvaluation(path, "empty expression")
	}
	keys := sortedKeys(raw)
	children := make([]Node, 0, len(keys))
	for _, k := range keys {
		child, err := n.entry(k, raw[k], joinPath(path, k))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Logical{Op: And, Children: children}, nil
}

func (n normalizer) entry(key string, value any, path string) (Node, error) {
	switch LogicalOp(key) {
	case And, Or:
		return n.logical(LogicalOp(key), value, path)
	case Not:
		return n.not(value, path)
	}
	if strings.HasPrefix(key, "$") {
		if isCompareOp(key) {
			return nil, domain.NewFilterEvaluation(path, "comparison operator "+key+" must be nested under a field")
		}
		return nil, fmt.Errorf("operator %q at %s: %w", key, path, domain.ErrUnsupportedFilter)
	}
	return n.field(key, value, path)
}

// logical handles both accepted shapes: a mapping whose keys each become a child,
// or a list of mappings each normalized with implicit-AND rules.
func (n normalizer) logical(op LogicalOp, value any, path string) (Node, error) {
	if m, ok := asMap(value); ok {
		if len(m) == 0 {
			return nil, domain.NewFilterEvaluation(path, "empty operand")
		}
		keys := sortedKeys(m)
		children := make([]Node, 0, len(keys))
		for _, k := range keys {
			child, err := n.entry(k, m[k], joinPath(path, k))
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &Logical{Op: op, Children: children}, nil
	}

	list, ok := asList(value)
	if !ok {
		return nil, domain.NewFilterEvaluation(path, "operand must be a mapping or a list of mappings")
	}
	if len(list) == 0 {
		return nil, domain.NewFilterEvaluation(path, "empty operand")
	}
	children := make([]Node, 0, len(list))
	for i, el := range list {
		elPath := path + "[" + strconv.Itoa(i) + "]"
		m, ok := asMap(el)
		if !ok {
			return nil, domain.NewFilterEvaluation(elPath, "list element must be a mapping")
		}
		child, err := n.mapping(m, elPath)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &Logical{Op: op, Children: children}, nil
}

func (n normalizer) not(value any, path string) (Node, error) {
	if m, ok := asMap(value); ok {
		child, err := n.mapping(m, path)
		if err != nil {
			return nil, err
		}
		return &Logical{Op: Not, Children: []Node{child}}, nil
	}

	list, ok := asList(value)
	if !ok {
		return nil, domain.NewFilterEvaluation(path, "$not operand must be a mapping or a list of one mapping")
	}
	if len(list) != 1 {
		return nil, domain.NewFilterEvaluation(path,
			fmt.Sprintf("$not takes exactly one child, got %d", len(list)))
	}
	m, ok := asMap(list[0])
	if !ok {
		return nil, domain.NewFilterEvaluation(path+"[0]", "list element must be a mapping")
	}
	child, err := n.mapping(m, path+"[0]")
	if err != nil {
		return nil, err
	}
	return &Logical{Op: Not, Children: []Node{child}}, nil
}

func (n normalizer) field(name string, value any, path string) (Node, error) {
	ops, ok := asMap(value)
	if !ok {
		if list, isList := asList(value); isList {
			if n.listEquality {
				return &Comparison{Field: name, Op: Eq, Value: list}, nil
			}
			return &Comparison{Field: name, Op: In, Value: list}, nil
		}
		return &Comparison{Field: name, Op: Eq, Value: value}, nil
	}

	if len(ops) == 0 {
		return nil, domain.NewFilterEvaluation(path, "empty comparison set")
	}
	keys := sortedKeys(ops)
	children := make([]Node, 0, len(keys))
	for _, k := range keys {
		c, err := n.comparison(name, k, ops[k], joinPath(path, k))
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Logical{Op: And, Children: children}, nil
}

func (n normalizer) comparison(field, key string, value any, path string) (*Comparison, error) {
	if !isCompareOp(key) {
		return nil, fmt.Errorf("operator %q on field %q: %w", key, field, domain.ErrUnsupportedFilter)
	}
	op := CompareOp(key)

	if _, isMap := asMap(value); isMap {
		return nil, domain.NewFilterEvaluation(path, "comparison value must not be a mapping")
	}
	list, isList := asList(value)

	switch {
	case op == In:
		if !isList {
			return nil, domain.NewFilterEvaluation(path, "$in requires a list")
		}
		return &Comparison{Field: field, Op: In, Value: list}, nil
	case isList && op == Eq && n.listEquality:
		return &Comparison{Field: field, Op: Eq, Value: list}, nil
	case isList:
		return nil, domain.NewFilterEvaluation(path, string(op)+" requires a scalar, use $in for lists")
	}
	return &Comparison{Field: field, Op: op, Value: value}, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
