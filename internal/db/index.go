package db

import (
	"errors"
	"fmt"
)

// DistanceMetric is the DISTANCE_METRIC of a vector attribute.
type DistanceMetric string

// Distances understood by FT.CREATE.
const (
	DistanceL2     DistanceMetric = "L2"
	DistanceIP     DistanceMetric = "IP"
	DistanceCosine DistanceMetric = "COSINE"
)

// IndexFieldType is the schema type of an indexed attribute.
type IndexFieldType int

// Attribute types. The zero value is invalid.
const (
	IndexFieldNumeric IndexFieldType = iota + 1
	IndexFieldTag
	IndexFieldVector
)

// HNSW configures a FLOAT32 vector attribute. Zero M or EFConstruct keeps
// the server default.
type HNSW struct {
	Dim         int
	Distance    DistanceMetric
	M           int
	EFConstruct int
}

// IndexField maps a JSONPath to the alias queries refer to.
type IndexField struct {
	Path     string
	Alias    string
	Type     IndexFieldType
	Sortable bool
	// CaseSensitive applies to tag attributes only.
	CaseSensitive bool
	Vector        HNSW
}

// IndexDefinition is an FT index over the JSON documents under Prefix.
type IndexDefinition struct {
	Name   string
	Prefix string
	Fields []IndexField
}

// Validate reports the first problem that would make FT.CREATE fail.
func (idx *IndexDefinition) Validate() error {
	switch {
	case idx.Name == "":
		return errors.New("index name is required")
	case idx.Prefix == "":
		return fmt.Errorf("index %s: key prefix is required", idx.Name)
	case len(idx.Fields) == 0:
		return fmt.Errorf("index %s: at least one field is required", idx.Name)
	}

	aliases := make(map[string]struct{}, len(idx.Fields))
	for i := range idx.Fields {
		f := &idx.Fields[i]
		if f.Path == "" || f.Alias == "" {
			return fmt.Errorf("index %s: field %d needs a path and an alias", idx.Name, i)
		}
		if _, dup := aliases[f.Alias]; dup {
			return fmt.Errorf("index %s: duplicate alias %s", idx.Name, f.Alias)
		}
		aliases[f.Alias] = struct{}{}

		switch f.Type {
		case IndexFieldNumeric, IndexFieldTag:
		case IndexFieldVector:
			if f.Vector.Dim <= 0 {
				return fmt.Errorf("index %s: vector %s needs a positive dimension", idx.Name, f.Alias)
			}
			if f.Sortable {
				return fmt.Errorf("index %s: vector %s cannot be sortable", idx.Name, f.Alias)
			}
		default:
			return fmt.Errorf("index %s: field %s has unknown type %d", idx.Name, f.Alias, f.Type)
		}
	}
	return nil
}

// Field returns the attribute with the given alias.
func (idx *IndexDefinition) Field(alias string) (IndexField, bool) {
	for _, f := range idx.Fields {
		if f.Alias == alias {
			return f, true
		}
	}
	return IndexField{}, false
}
