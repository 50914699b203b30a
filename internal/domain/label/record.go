package label

import (
	"time"

	"github.com/kailas-cloud/docstore/internal/domain/document"
)

// Record is the persisted JSON form of a Label, shared by the storage backends.
type Record struct {
	ID                string         `json:"id"`
	Query             string         `json:"query"`
	Document          DocumentRecord `json:"document"`
	Answer            *Answer        `json:"answer,omitempty"`
	NoAnswer          bool           `json:"no_answer"`
	IsCorrectAnswer   bool           `json:"is_correct_answer"`
	IsCorrectDocument bool           `json:"is_correct_document"`
	Origin            string         `json:"origin"`
	Filters           map[string]any `json:"filters,omitempty"`
	Meta              map[string]any `json:"meta,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// DocumentRecord is the referenced document without its embedding.
type DocumentRecord struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ToRecord converts l into its persisted form.
func ToRecord(l *Label) Record {
	return Record{
		ID:    l.id,
		Query: l.query,
		Document: DocumentRecord{
			ID:      l.document.ID(),
			Content: l.document.Content(),
			Meta:    l.document.Meta(),
		},
		Answer:            l.answer,
		NoAnswer:          l.noAnswer,
		IsCorrectAnswer:   l.isCorrectAnswer,
		IsCorrectDocument: l.isCorrectDocument,
		Origin:            l.origin,
		Filters:           l.filters,
		Meta:              l.meta,
		CreatedAt:         l.createdAt,
		UpdatedAt:         l.updatedAt,
	}
}

// FromRecord hydrates a Label.
func FromRecord(r *Record) Label {
	return Reconstruct(r.ID, Params{
		Query:             r.Query,
		Document:          document.Reconstruct(r.Document.ID, r.Document.Content, r.Document.Meta, nil),
		Answer:            r.Answer,
		NoAnswer:          r.NoAnswer,
		IsCorrectAnswer:   r.IsCorrectAnswer,
		IsCorrectDocument: r.IsCorrectDocument,
		Origin:            r.Origin,
		Filters:           r.Filters,
		Meta:              r.Meta,
	}, r.CreatedAt, r.UpdatedAt)
}
