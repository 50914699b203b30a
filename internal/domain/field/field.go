// Package field declares metadata fields that backends index natively.
package field

import (
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/docstore/internal/domain"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
)

// Type is the indexing type of a field.
type Type string

// Field type constants.
const (
	// Tag is an exact-match string field.
	Tag     Type = "tag"
	Numeric Type = "numeric"
)

const maxNameLength = 64

// Names prefixed "__" are taken by the storage layout.
const reservedPrefix = "__"

// Field is an immutable value object describing an indexed metadata field.
type Field struct {
	name      string
	fieldType Type
}

// New validates and creates a Field.
// Name must be non-empty, max 64 chars of [A-Za-z0-9_] and not reserved.
// Type must be tag or numeric.
func New(name string, ft Type) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("field name is required: %w", domain.ErrConfiguration)
	}
	if len(name) > maxNameLength {
		return Field{}, fmt.Errorf("field name %q too long (max %d): %w", name, maxNameLength, domain.ErrConfiguration)
	}
	if strings.HasPrefix(name, reservedPrefix) {
		return Field{}, fmt.Errorf("field name %q is reserved: %w", name, domain.ErrConfiguration)
	}
	for _, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return Field{}, fmt.Errorf("field name %q contains invalid characters: %w", name, domain.ErrConfiguration)
		}
	}
	if ft != Tag && ft != Numeric {
		return Field{}, fmt.Errorf("invalid field type %q for %q: %w", ft, name, domain.ErrConfiguration)
	}
	return Field{name: name, fieldType: ft}, nil
}

// Reconstruct creates a Field without validation (storage hydration).
func Reconstruct(name string, ft Type) Field {
	return Field{name: name, fieldType: ft}
}

// Name returns the field name.
func (f Field) Name() string { return f.name }

// FieldType returns the field's indexing type.
func (f Field) FieldType() Type { return f.fieldType }

// Set is a lookup of declared fields by name.
type Set map[string]Field

// NewSet indexes fields by name. Later duplicates win.
func NewSet(fields ...Field) Set {
	s := make(Set, len(fields))
	for _, f := range fields {
		s[f.name] = f
	}
	return s
}

// Lookup returns the declared field named name.
func (s Set) Lookup(name string) (Field, bool) {
	f, ok := s[name]
	return f, ok
}

// CheckMeta rejects values a backend index could not hold under the declared
// type: tags take strings or lists of strings, numerics a single finite
// number. Undeclared keys are not checked.
func (s Set) CheckMeta(meta map[string]any) error {
	for name, v := range meta {
		f, ok := s[name]
		if !ok {
			continue
		}
		var valid bool
		switch f.fieldType {
		case Tag:
			valid = isTagValue(v)
		case Numeric:
			n, ok := filter.ToNumber(v)
			valid = ok && !math.IsNaN(n) && !math.IsInf(n, 0)
		}
		if !valid {
			return fmt.Errorf("meta field %q must hold %s values: %w", name, f.fieldType, domain.ErrConfiguration)
		}
	}
	return nil
}

func isTagValue(v any) bool {
	switch t := v.(type) {
	case string, []string:
		return true
	case []any:
		for _, el := range t {
			if _, ok := el.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}
