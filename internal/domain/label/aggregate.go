package label

import (
	"fmt"
	"sort"
	"strings"
)

// Options controls how labels are grouped.
type Options struct {
	// OpenDomain groups by query and filters only; closed domain also binds the document id.
	OpenDomain      bool
	DropNegative    bool
	DropNoAnswer    bool
	AggregateByMeta []string
}

// Aggregate groups labels into MultiLabels. The group key is the query, the
// sorted filter tokens, then "_id=<doc>" in closed domain, then one token per
// AggregateByMeta field present in the label meta. Groups keep first-seen order
// and labels keep input order within a group.
//
// The _id and meta scope is injected into each label's filters in place, so the
// passed labels are mutated. Groups left empty by the drop options are omitted.
func Aggregate(labels []*Label, opts Options) []MultiLabel {
	var order []string
	groups := make(map[string][]Label)

	for _, l := range labels {
		if opts.DropNoAnswer && l.noAnswer {
			continue
		}

		keys := []string{l.query}
		filterKeys := make([]string, 0, len(l.filters))
		for k, v := range l.filters {
			filterKeys = append(filterKeys, k+"="+joinValues(v))
		}
		sort.Strings(filterKeys)
		keys = append(keys, filterKeys...)

		inject := make(map[string]any)
		if !opts.OpenDomain {
			id := l.document.ID()
			keys = append(keys, "_id="+id)
			inject["_id"] = id
		}
		for _, field := range opts.AggregateByMeta {
			values, ok := metaValues(l.meta, field)
			if !ok {
				continue
			}
			keys = append(keys, field+"="+joinValues(values))
			inject[field] = values
		}
		l.injectFilters(inject)

		gk := groupKey(keys)
		if _, ok := groups[gk]; !ok {
			order = append(order, gk)
		}
		groups[gk] = append(groups[gk], *l)
	}

	out := make([]MultiLabel, 0, len(order))
	for _, gk := range order {
		m := NewMultiLabel(groups[gk], opts.DropNegative, opts.DropNoAnswer)
		if m.Len() == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// metaValues returns meta[field] as a list. Absent values are skipped, and so
// are falsy ones: empty strings and lists, false and numeric zero.
func metaValues(meta map[string]any, field string) ([]any, bool) {
	v, ok := meta[field]
	if !ok || v == nil {
		return nil, false
	}
	switch t := v.(type) {
	case []any:
		return t, len(t) > 0
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, len(out) > 0
	case string:
		return []any{t}, t != ""
	case bool:
		return []any{t}, t
	case int:
		return []any{t}, t != 0
	case int64:
		return []any{t}, t != 0
	case float32:
		return []any{t}, t != 0
	case float64:
		return []any{t}, t != 0
	}
	return []any{v}, true
}

func joinValues(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var b strings.Builder
		for _, el := range t {
			b.WriteString(fmt.Sprint(el))
		}
		return b.String()
	case []string:
		return strings.Join(t, "")
	}
	return fmt.Sprint(v)
}

// groupKey encodes the ordered token list; the separator cannot occur in
// length-prefixed tokens, so distinct lists never collide.
func groupKey(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		fmt.Fprintf(&b, "%d:%s|", len(t), t)
	}
	return b.String()
}
