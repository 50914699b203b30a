// Package label holds evaluation annotations and their aggregation into MultiLabels.
package label

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/docstore/internal/domain/document"
)

// Origin of a label.
const (
	OriginUserFeedback = "user-feedback"
	OriginGoldLabel    = "gold-label"
)

var labelNamespace = uuid.MustParse("0c9a7b5e-91d2-4f3b-8e47-2a6d13f0c5b8")

// Span is a character range inside a document or context.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Answer is the expected answer of a label.
type Answer struct {
	Text              string   `json:"answer"`
	Type              string   `json:"type,omitempty"`
	Context           string   `json:"context,omitempty"`
	OffsetsInDocument []Span   `json:"offsets_in_document,omitempty"`
	OffsetsInContext  []Span   `json:"offsets_in_context,omitempty"`
	DocumentIDs       []string `json:"document_ids,omitempty"`
	Score             *float64 `json:"score,omitempty"`
}

// Label links a query to a document and an expected answer.
type Label struct {
	id                string
	query             string
	document          document.Document
	answer            *Answer
	noAnswer          bool
	isCorrectAnswer   bool
	isCorrectDocument bool
	origin            string
	filters           map[string]any
	meta              map[string]any
	createdAt         time.Time
	updatedAt         time.Time
}

// Params carries the fields of a new label.
type Params struct {
	Query             string
	Document          document.Document
	Answer            *Answer
	NoAnswer          bool
	IsCorrectAnswer   bool
	IsCorrectDocument bool
	Origin            string
	Filters           map[string]any
	Meta              map[string]any
}

// New validates p and creates a Label with an id derived from
// query, answer, document id and filters.
func New(p Params) (Label, error) {
	if p.Query == "" {
		return Label{}, fmt.Errorf("query is required")
	}
	if p.Document.ID() == "" {
		return Label{}, fmt.Errorf("document is required")
	}
	if p.Origin == "" {
		p.Origin = OriginGoldLabel
	}
	now := time.Now().UTC()
	l := Label{
		query:             p.Query,
		document:          p.Document,
		answer:            p.Answer,
		noAnswer:          p.NoAnswer,
		isCorrectAnswer:   p.IsCorrectAnswer,
		isCorrectDocument: p.IsCorrectDocument,
		origin:            p.Origin,
		filters:           maps.Clone(p.Filters),
		meta:              maps.Clone(p.Meta),
		createdAt:         now,
		updatedAt:         now,
	}
	l.id = DeriveID(l.query, l.answerText(), l.document.ID(), l.filters)
	return l, nil
}

// Reconstruct creates a Label without validation (storage hydration).
func Reconstruct(id string, p Params, createdAt, updatedAt time.Time) Label {
	return Label{
		id:                id,
		query:             p.Query,
		document:          p.Document,
		answer:            p.Answer,
		noAnswer:          p.NoAnswer,
		isCorrectAnswer:   p.IsCorrectAnswer,
		isCorrectDocument: p.IsCorrectDocument,
		origin:            p.Origin,
		filters:           p.Filters,
		meta:              p.Meta,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

// DeriveID returns the deterministic label id for the identifying fields.
// Filters are rendered with sorted keys so equal scopes collide.
func DeriveID(query, answer, documentID string, filters map[string]any) string {
	f, err := json.Marshal(filters)
	if err != nil {
		f = []byte(fmt.Sprint(filters))
	}
	key, _ := json.Marshal([]string{query, answer, documentID, string(f)})
	return uuid.NewSHA1(labelNamespace, key).String()
}

func (l *Label) answerText() string {
	if l.answer == nil {
		return ""
	}
	return l.answer.Text
}

// ID returns the label identifier.
func (l *Label) ID() string { return l.id }

// Query returns the question text.
func (l *Label) Query() string { return l.query }

// Document returns the referenced document.
func (l *Label) Document() document.Document { return l.document }

// Answer returns the expected answer or nil.
func (l *Label) Answer() *Answer { return l.answer }

// NoAnswer reports whether the query is unanswerable for the document.
func (l *Label) NoAnswer() bool { return l.noAnswer }

// IsCorrectAnswer reports the answer correctness flag.
func (l *Label) IsCorrectAnswer() bool { return l.isCorrectAnswer }

// IsCorrectDocument reports the document correctness flag.
func (l *Label) IsCorrectDocument() bool { return l.isCorrectDocument }

// Origin returns where the label came from.
func (l *Label) Origin() string { return l.origin }

// Filters returns the scope under which the label is valid.
func (l *Label) Filters() map[string]any { return l.filters }

// Meta returns free-form metadata.
func (l *Label) Meta() map[string]any { return l.meta }

// CreatedAt returns the creation time.
func (l *Label) CreatedAt() time.Time { return l.createdAt }

// UpdatedAt returns the last update time.
func (l *Label) UpdatedAt() time.Time { return l.updatedAt }

// Params returns the label fields, e.g. for persistence.
func (l *Label) Params() Params {
	return Params{
		Query:             l.query,
		Document:          l.document,
		Answer:            l.answer,
		NoAnswer:          l.noAnswer,
		IsCorrectAnswer:   l.isCorrectAnswer,
		IsCorrectDocument: l.isCorrectDocument,
		Origin:            l.origin,
		Filters:           l.filters,
		Meta:              l.meta,
	}
}

// injectFilters merges extra into the label's filter scope in place.
func (l *Label) injectFilters(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if l.filters == nil {
		l.filters = make(map[string]any, len(extra))
	}
	maps.Copy(l.filters, extra)
}
