package chi

import (
	"fmt"

	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	codeBadRequest        = "bad_request"
	codeUnauthorized      = "unauthorized"
	codeValidationFailed  = "validation_failed"
	codeUnsupportedFilter = "unsupported_filter"
	codeFilterEvaluation  = "filter_evaluation_error"
	codeVectorDimMismatch = "vector_dim_mismatch"
	codeEmbedderMissing   = "embedder_not_configured"
	codeDuplicateDocument = "duplicate_document"
	codeNotFound          = "not_found"
	codeDocumentNotFound  = "document_not_found"
	codeLabelNotFound     = "label_not_found"
	codeIndexNotFound     = "index_not_found"
	codeNotSupported      = "not_supported"
	codeEmbeddingProvider = "embedding_provider_error"
	codeBatchWriteFailed  = "batch_write_failed"
	codeInternalError     = "internal_error"
)

// Document is the wire form of a document.
type Document struct {
	ID        string         `json:"id,omitempty"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	Score     *float64       `json:"score,omitempty"`
}

// WriteDocumentsRequest is the body of POST /indexes/{index}/documents.
// The duplicate_documents query parameter wins over the body field.
type WriteDocumentsRequest struct {
	Documents          []Document `json:"documents"`
	DuplicateDocuments string     `json:"duplicate_documents,omitempty"`
}

// WriteDocumentsResponse reports what a write did.
type WriteDocumentsResponse struct {
	Written         int      `json:"written"`
	SkippedInBatch  []string `json:"skipped_in_batch"`
	SkippedExisting []string `json:"skipped_existing"`
}

// SearchDocumentsRequest lists documents by filter.
type SearchDocumentsRequest struct {
	Filters         map[string]any `json:"filters,omitempty"`
	ReturnEmbedding bool           `json:"return_embedding,omitempty"`
}

// DocumentListResponse wraps a list of documents.
type DocumentListResponse struct {
	Documents []Document `json:"documents"`
	Count     int        `json:"count"`
}

// QueryRequest runs a similarity query. Exactly one of Query and QueryEmbedding is set.
type QueryRequest struct {
	Query           string         `json:"query,omitempty"`
	QueryEmbedding  []float32      `json:"query_embedding,omitempty"`
	Filters         map[string]any `json:"filters,omitempty"`
	TopK            int            `json:"top_k,omitempty"`
	ReturnEmbedding bool           `json:"return_embedding,omitempty"`
}

// CountRequest counts documents by filter.
type CountRequest struct {
	Filters                       map[string]any `json:"filters,omitempty"`
	OnlyDocumentsWithoutEmbedding bool           `json:"only_documents_without_embedding,omitempty"`
}

// CountResponse carries a count.
type CountResponse struct {
	Count int `json:"count"`
}

// DeleteRequest deletes by ids, by filter, or both. With neither, everything goes.
type DeleteRequest struct {
	IDs     []string       `json:"ids,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
}

// DeleteResponse reports how many items were removed.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// UpdateEmbeddingsRequest recomputes embeddings. UpdateExisting defaults to true.
type UpdateEmbeddingsRequest struct {
	Filters        map[string]any `json:"filters,omitempty"`
	UpdateExisting *bool          `json:"update_existing_embeddings,omitempty"`
}

// UpdateEmbeddingsResponse reports how many documents got a new embedding.
type UpdateEmbeddingsResponse struct {
	Updated int `json:"updated"`
}

// LabelDocument is the document a label points at.
type LabelDocument struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Label is the wire form of a label on input. The id is derived server side.
type Label struct {
	Query             string           `json:"query"`
	Document          LabelDocument    `json:"document"`
	Answer            *domlabel.Answer `json:"answer,omitempty"`
	NoAnswer          bool             `json:"no_answer"`
	IsCorrectAnswer   bool             `json:"is_correct_answer"`
	IsCorrectDocument bool             `json:"is_correct_document"`
	Origin            string           `json:"origin,omitempty"`
	Filters           map[string]any   `json:"filters,omitempty"`
	Meta              map[string]any   `json:"meta,omitempty"`
}

// WriteLabelsRequest is the body of POST /indexes/{index}/labels and of the
// duplicate check.
type WriteLabelsRequest struct {
	Labels             []Label `json:"labels"`
	DuplicateDocuments string  `json:"duplicate_documents,omitempty"`
}

// WriteLabelsResponse reports how many labels were stored.
type WriteLabelsResponse struct {
	Written int `json:"written"`
}

// SearchLabelsRequest lists labels by filter.
type SearchLabelsRequest struct {
	Filters map[string]any `json:"filters,omitempty"`
}

// LabelListResponse wraps stored labels.
type LabelListResponse struct {
	Labels []domlabel.Record `json:"labels"`
	Count  int               `json:"count"`
}

// AggregateRequest groups labels into multi-labels.
type AggregateRequest struct {
	Filters            map[string]any `json:"filters,omitempty"`
	OpenDomain         bool           `json:"open_domain,omitempty"`
	DropNegativeLabels bool           `json:"drop_negative_labels,omitempty"`
	DropNoAnswers      bool           `json:"drop_no_answers,omitempty"`
	AggregateByMeta    []string       `json:"aggregate_by_meta,omitempty"`
}

// MultiLabel is the wire form of an aggregated label group.
type MultiLabel struct {
	ID                 string            `json:"id"`
	Query              string            `json:"query"`
	Filters            map[string]any    `json:"filters,omitempty"`
	NoAnswer           bool              `json:"no_answer"`
	Answers            []string          `json:"answers"`
	DocumentIDs        []string          `json:"document_ids"`
	Contexts           []string          `json:"contexts"`
	OffsetsInDocuments []domlabel.Span   `json:"offsets_in_documents"`
	Labels             []domlabel.Record `json:"labels"`
}

// AggregateResponse wraps multi-labels.
type AggregateResponse struct {
	MultiLabels []MultiLabel `json:"multilabels"`
}

// HealthResponse reports backend and provider status.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

func documentFromWire(d *Document) (domdoc.Document, error) {
	doc, err := domdoc.New(d.ID, d.Content, d.Meta, d.Embedding)
	if err != nil {
		return domdoc.Document{}, err
	}
	return doc, nil
}

func documentToWire(d *domdoc.Document) Document {
	out := Document{
		ID:        d.ID(),
		Content:   d.Content(),
		Meta:      d.Meta(),
		Embedding: d.Embedding(),
	}
	if score, ok := d.Score(); ok {
		out.Score = &score
	}
	return out
}

func documentsToWire(docs []domdoc.Document) []Document {
	out := make([]Document, len(docs))
	for i := range docs {
		out[i] = documentToWire(&docs[i])
	}
	return out
}

func labelsFromWire(in []Label) ([]domlabel.Label, error) {
	out := make([]domlabel.Label, len(in))
	for i := range in {
		l := &in[i]
		label, err := domlabel.New(domlabel.Params{
			Query:             l.Query,
			Document:          domdoc.Reconstruct(l.Document.ID, l.Document.Content, l.Document.Meta, nil),
			Answer:            l.Answer,
			NoAnswer:          l.NoAnswer,
			IsCorrectAnswer:   l.IsCorrectAnswer,
			IsCorrectDocument: l.IsCorrectDocument,
			Origin:            l.Origin,
			Filters:           l.Filters,
			Meta:              l.Meta,
		})
		if err != nil {
			return nil, fmt.Errorf("labels[%d]: %w", i, err)
		}
		out[i] = label
	}
	return out, nil
}

func labelsToWire(labels []domlabel.Label) []domlabel.Record {
	out := make([]domlabel.Record, len(labels))
	for i := range labels {
		out[i] = domlabel.ToRecord(&labels[i])
	}
	return out
}

func multiLabelToWire(m *domlabel.MultiLabel) MultiLabel {
	return MultiLabel{
		ID:                 m.ID(),
		Query:              m.Query(),
		Filters:            m.Filters(),
		NoAnswer:           m.NoAnswer(),
		Answers:            nonNil(m.Answers()),
		DocumentIDs:        nonNil(m.DocumentIDs()),
		Contexts:           nonNil(m.Contexts()),
		OffsetsInDocuments: nonNil(m.OffsetsInDocuments()),
		Labels:             labelsToWire(m.Labels()),
	}
}

// nonNil keeps empty lists as [] on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
