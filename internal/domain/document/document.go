package document

import (
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// VectorIDKey is the meta field stamped on documents written with an embedding.
const VectorIDKey = "vector_id"

// MaxIDLength bounds caller-supplied identifiers.
const MaxIDLength = 512

var idNamespace = uuid.MustParse("6f1d4c8e-2f5b-4d0a-9a3e-6c1f0b7e2d45")

// Document is the unit of indexed content (value object).
type Document struct {
	id        string
	content   string
	meta      map[string]any
	embedding []float32
	score     float64
	hasScore  bool
}

// New validates and creates a Document. An empty id is derived from the content
// hash, so identical content maps to the same id.
func New(id, content string, meta map[string]any, embedding []float32) (Document, error) {
	if content == "" {
		return Document{}, fmt.Errorf("content is required")
	}
	if id == "" {
		id = HashID(content)
	}
	if len(id) > MaxIDLength {
		return Document{}, fmt.Errorf("document ID too long (max %d)", MaxIDLength)
	}
	return Document{
		id:        id,
		content:   content,
		meta:      maps.Clone(meta),
		embedding: embedding,
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id, content string, meta map[string]any, embedding []float32) Document {
	return Document{id: id, content: content, meta: meta, embedding: embedding}
}

// HashID returns the deterministic id for a piece of content.
func HashID(content string) string {
	return uuid.NewSHA1(idNamespace, []byte(content)).String()
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Content returns the text content.
func (d *Document) Content() string { return d.content }

// Meta returns the metadata mapping. Callers must not mutate it.
func (d *Document) Meta() map[string]any { return d.meta }

// Embedding returns the embedding vector or nil.
func (d *Document) Embedding() []float32 { return d.embedding }

// HasEmbedding reports whether an embedding is set.
func (d *Document) HasEmbedding() bool { return len(d.embedding) > 0 }

// Score returns the calibrated query score and whether one is set.
func (d *Document) Score() (float64, bool) { return d.score, d.hasScore }

// WithScore returns a copy carrying a query score.
func (d *Document) WithScore(s float64) Document {
	c := *d
	c.score = s
	c.hasScore = true
	return c
}

// WithEmbedding returns a copy with the given embedding.
func (d *Document) WithEmbedding(v []float32) Document {
	c := *d
	c.embedding = v
	return c
}

// WithMeta returns a copy with meta[key] = value. The original meta is not touched.
func (d *Document) WithMeta(key string, value any) Document {
	c := *d
	c.meta = maps.Clone(d.meta)
	if c.meta == nil {
		c.meta = make(map[string]any, 1)
	}
	c.meta[key] = value
	return c
}
