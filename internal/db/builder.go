package db

// IndexBuilder assembles an IndexDefinition attribute by attribute.
// Sortable and CaseSensitive modify the attribute added last.
type IndexBuilder struct {
	def IndexDefinition
}

// NewIndex starts an index over the keys under prefix.
func NewIndex(name, prefix string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name, Prefix: prefix}}
}

// Tag adds a TAG attribute.
func (b *IndexBuilder) Tag(path, alias string) *IndexBuilder {
	return b.add(IndexField{Path: path, Alias: alias, Type: IndexFieldTag})
}

// Numeric adds a NUMERIC attribute.
func (b *IndexBuilder) Numeric(path, alias string) *IndexBuilder {
	return b.add(IndexField{Path: path, Alias: alias, Type: IndexFieldNumeric})
}

// Vector adds an HNSW vector attribute.
func (b *IndexBuilder) Vector(path, alias string, params HNSW) *IndexBuilder {
	return b.add(IndexField{Path: path, Alias: alias, Type: IndexFieldVector, Vector: params})
}

// Sortable marks the last attribute SORTABLE.
func (b *IndexBuilder) Sortable() *IndexBuilder {
	if f := b.last(); f != nil {
		f.Sortable = true
	}
	return b
}

// CaseSensitive keeps the case of the last attribute's tag values.
func (b *IndexBuilder) CaseSensitive() *IndexBuilder {
	if f := b.last(); f != nil && f.Type == IndexFieldTag {
		f.CaseSensitive = true
	}
	return b
}

// Build validates the definition and returns it.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	def := b.def
	def.Fields = append([]IndexField(nil), b.def.Fields...)
	return &def, nil
}

func (b *IndexBuilder) add(f IndexField) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, f)
	return b
}

func (b *IndexBuilder) last() *IndexField {
	if n := len(b.def.Fields); n > 0 {
		return &b.def.Fields[n-1]
	}
	return nil
}
