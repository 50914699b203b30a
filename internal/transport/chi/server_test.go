package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/kailas-cloud/docstore/internal/domain"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
	"github.com/kailas-cloud/docstore/internal/repository/memory"
	documentuc "github.com/kailas-cloud/docstore/internal/usecase/document"
	healthuc "github.com/kailas-cloud/docstore/internal/usecase/health"
	labeluc "github.com/kailas-cloud/docstore/internal/usecase/label"
)

// --- Mocks ---

type stubEmbedder struct {
	vector []float32
	err    error
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	return domain.EmbeddingResult{Embedding: append([]float32(nil), e.vector...)}, nil
}

// --- Helpers ---

func newTestServer(t *testing.T, embedder documentuc.Embedder) http.Handler {
	t.Helper()
	store := memory.New(similarity.Cosine, 2)
	docs := documentuc.New(store, nil, nil)
	if embedder != nil {
		docs.WithEmbedder(embedder)
	}
	labels := labeluc.New(store, nil, nil)
	health := healthuc.New().WithStore("memory", store)
	return NewServer(docs, labels, health, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeAs[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

func seed(t *testing.T, h http.Handler) {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/indexes/docs/documents", WriteDocumentsRequest{Documents: []Document{
		{ID: "a", Content: "alpha", Meta: map[string]any{"lang": "en", "year": 2020}, Embedding: []float32{1, 0}},
		{ID: "b", Content: "beta", Meta: map[string]any{"lang": "de", "year": 2021}, Embedding: []float32{0, 1}},
		{ID: "c", Content: "gamma", Meta: map[string]any{"lang": "en", "year": 2022}},
	}})
	expectStatus(t, rr, http.StatusOK)
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i := range docs {
		out[i] = docs[i].ID
	}
	return out
}

// --- Documents ---

func TestWriteAndGetDocument(t *testing.T) {
	h := newTestServer(t, nil)
	seed(t, h)

	rr := do(t, h, http.MethodGet, "/indexes/docs/documents/a", nil)
	expectStatus(t, rr, http.StatusOK)
	doc := decodeAs[Document](t, rr)
	if doc.Content != "alpha" || doc.Meta["lang"] != "en" {
		t.Errorf("unexpected document %+v", doc)
	}
	if doc.Embedding != nil {
		t.Error("embedding must be omitted by default")
	}

	rr = do(t, h, http.MethodGet, "/indexes/docs/documents/a?return_embedding=true", nil)
	expectStatus(t, rr, http.StatusOK)
	if doc := decodeAs[Document](t, rr); len(doc.Embedding) != 2 {
		t.Errorf("embedding = %v", doc.Embedding)
	}
}

func TestWriteDocuments_SkipReportsDuplicates(t *testing.T) {
	h := newTestServer(t, nil)
	seed(t, h)

	rr := do(t, h, http.MethodPost, "/indexes/docs/documents?duplicate_documents=skip", WriteDocumentsRequest{
		Documents: []Document{
			{ID: "a", Content: "alpha again"},
			{ID: "d", Content: "delta"},
			{ID: "d", Content: "delta twice"},
		},
	})
	expectStatus(t, rr, http.StatusOK)
	res := decodeAs[WriteDocumentsResponse](t, rr)
	if res.Written != 1 {
		t.Errorf("written = %d, want 1", res.Written)
	}
	if !reflect.DeepEqual(res.SkippedExisting, []string{"a"}) || !reflect.DeepEqual(res.SkippedInBatch, []string{"d"}) {
		t.Errorf("skipped existing=%v in batch=%v", res.SkippedExisting, res.SkippedInBatch)
	}
}

func TestWriteDocuments_FailMode409(t *testing.T) {
	h := newTestServer(t, nil)
	seed(t, h)

	rr := do(t, h, http.MethodPost, "/indexes/docs/documents", WriteDocumentsRequest{
		Documents:          []Document{{ID: "b", Content: "beta again"}},
		DuplicateDocuments: "fail",
	})
	expectStatus(t, rr, http.StatusConflict)
	body := decodeAs[map[string]any](t, rr)
	if body["code"] != codeDuplicateDocument {
		t.Errorf("code = %v", body["code"])
	}
	if !reflect.DeepEqual(body["ids"], []any{"b"}) {
		t.Errorf("ids = %v", body["ids"])
	}
}

func TestWriteDocuments_Validation(t *testing.T) {
	h := newTestServer(t, nil)

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode string
	}{
		{"malformed json", "/indexes/docs/documents", "{", codeBadRequest},
		{"empty", "/indexes/docs/documents", WriteDocumentsRequest{}, codeValidationFailed},
		{"missing content", "/indexes/docs/documents", WriteDocumentsRequest{Documents: []Document{{ID: "x"}}}, codeValidationFailed},
		{
			"unknown mode", "/indexes/docs/documents?duplicate_documents=merge",
			WriteDocumentsRequest{Documents: []Document{{ID: "x", Content: "x"}}}, codeValidationFailed,
		},
		{
			"dimension", "/indexes/docs/documents",
			WriteDocumentsRequest{Documents: []Document{{ID: "x", Content: "x", Embedding: []float32{1, 2, 3}}}},
			codeVectorDimMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tt.path, tt.body)
			expectStatus(t, rr, http.StatusBadRequest)
			if got := decodeAs[ErrorResponse](t, rr); got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s (%s)", got.Code, tt.wantCode, got.Message)
			}
		})
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	h := newTestServer(t, nil)

	rr := do(t, h, http.MethodGet, "/indexes/docs/documents/missing", nil)
	expectStatus(t, rr, http.StatusNotFound)
	if got := decodeAs[ErrorResponse](t, rr); got.Code != codeDocumentNotFound {
		t.Errorf("code = %s", got.Code)
	}
}

func TestSearchDocuments_Filter(t *testing.T) {
	h := newTestServer(t, nil)
	seed(t, h)

	rr := do(t, h, http.MethodPost, "/indexes/docs/documents/search", SearchDocumentsRequest{
		Filters: map[string]any{"lang": "en", "year": map[string]any{"$gte": 2021}},
	})
	expectStatus(t, rr, http.StatusOK)
	res := decodeAs[DocumentListResponse](t, rr)
	if res.Count != 1 || !reflect.DeepEqual(ids(res.Documents), []string{"c"}) {
		t.Errorf("got %v", ids(res.Documents))
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/documents/search", nil)
	expectStatus(t, rr, http.StatusOK)
	if res := decodeAs[DocumentListResponse](t, rr); res.Count != 3 {
		t.Errorf("unfiltered count = %d, want 3", res.Count)
	}
}

func TestSearchDocuments_MalformedFilter(t *testing.T) {
	h := newTestServer(t, nil)

	rr := do(t, h, http.MethodPost, "/indexes/docs/documents/search", `{"filters": {"$or": ["bad"]}}`)
	expectStatus(t, rr, http.StatusBadRequest)
	if got := decodeAs[ErrorResponse](t, rr); got.Code != codeFilterEvaluation {
		t.Errorf("code = %s (%s)", got.Code, got.Message)
	}
}

func TestQueryDocuments_ByEmbedding(t *testing.T) {
	h := newTestServer(t, nil)
	seed(t, h)

	rr := do(t, h, http.MethodPost, "/indexes/docs/documents/query", QueryRequest{
		QueryEmbedding: []float32{0.9, 0.1},
		TopK:           2,
	})
	expectStatus(t, rr, http.StatusOK)
	res := decodeAs[DocumentListResponse](t, rr)
	if !reflect.DeepEqual(ids(res.Documents), []string{"a", "b"}) {
		t.Fatalf("order = %v", ids(res.Documents))
	}
	for _, d := range res.Documents {
		if d.Score == nil || *d.Score < 0 || *d.Score > 1 {
			t.Errorf("score of %s = %v", d.ID, d.Score)
		}
		if d.Embedding != nil {
			t.Errorf("embedding of %s must be omitted", d.ID)
		}
	}
}

func TestQueryDocuments_ByText(t *testing.T) {
	h := newTestServer(t, &stubEmbedder{vector: []float32{0, 1}})
	seed(t, h)

	rr := do(t, h, http.MethodPost, "/indexes/docs/documents/query", QueryRequest{Query: "second", TopK: 1})
	expectStatus(t, rr, http.StatusOK)
	if res := decodeAs[DocumentListResponse](t, rr); !reflect.DeepEqual(ids(res.Documents), []string{"b"}) {
		t.Errorf("got %v", ids(res.Documents))
	}
}

func TestQueryDocuments_Errors(t *testing.T) {
	tests := []struct {
		name       string
		embedder   documentuc.Embedder
		body       QueryRequest
		wantStatus int
		wantCode   string
	}{
		{"neither", nil, QueryRequest{}, http.StatusBadRequest, codeValidationFailed},
		{
			"both", nil, QueryRequest{Query: "q", QueryEmbedding: []float32{1, 0}},
			http.StatusBadRequest, codeValidationFailed,
		},
		{"no embedder", nil, QueryRequest{Query: "q"}, http.StatusBadRequest, codeEmbedderMissing},
		{
			"provider down", &stubEmbedder{err: errors.New("503 from upstream")}, QueryRequest{Query: "q"},
			http.StatusBadGateway, codeEmbeddingProvider,
		},
		{
			"dimension", nil, QueryRequest{QueryEmbedding: []float32{1, 0, 0}},
			http.StatusBadRequest, codeVectorDimMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.embedder)
			rr := do(t, h, http.MethodPost, "/indexes/docs/documents/query", tt.body)
			expectStatus(t, rr, tt.wantStatus)
			got := decodeAs[ErrorResponse](t, rr)
			if got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Code, tt.wantCode)
			}
			if tt.wantStatus == http.StatusBadGateway && got.Message != domain.ErrEmbeddingProviderError.Error() {
				t.Errorf("provider details leaked: %q", got.Message)
			}
		})
	}
}

func TestCountAndDeleteDocuments(t *testing.T) {
	h := newTestServer(t, nil)
	seed(t, h)

	rr := do(t, h, http.MethodPost, "/indexes/docs/documents/count", CountRequest{OnlyDocumentsWithoutEmbedding: true})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[CountResponse](t, rr); got.Count != 1 {
		t.Errorf("without embedding = %d, want 1", got.Count)
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/documents/delete", DeleteRequest{
		IDs:     []string{"a", "b"},
		Filters: map[string]any{"lang": "en"},
	})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[DeleteResponse](t, rr); got.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", got.Deleted)
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/documents/count", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[CountResponse](t, rr); got.Count != 2 {
		t.Errorf("remaining = %d, want 2", got.Count)
	}
}

func TestUpdateEmbeddings(t *testing.T) {
	h := newTestServer(t, &stubEmbedder{vector: []float32{3, 4}})
	seed(t, h)

	f := false
	rr := do(t, h, http.MethodPost, "/indexes/docs/documents/embeddings", UpdateEmbeddingsRequest{UpdateExisting: &f})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[UpdateEmbeddingsResponse](t, rr); got.Updated != 1 {
		t.Errorf("updated = %d, want 1", got.Updated)
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/documents/embeddings", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[UpdateEmbeddingsResponse](t, rr); got.Updated != 3 {
		t.Errorf("updated = %d, want 3", got.Updated)
	}
}

func TestDeleteIndex(t *testing.T) {
	h := newTestServer(t, nil)
	seed(t, h)
	expectStatus(t, do(t, h, http.MethodPost, "/indexes/docs/labels", labelRequest("q", "a", "x")), http.StatusOK)

	rr := do(t, h, http.MethodDelete, "/indexes/docs", nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = do(t, h, http.MethodPost, "/indexes/docs/documents/count", nil)
	if got := decodeAs[CountResponse](t, rr); got.Count != 0 {
		t.Errorf("documents left = %d", got.Count)
	}
	rr = do(t, h, http.MethodGet, "/indexes/docs/labels/count", nil)
	if got := decodeAs[CountResponse](t, rr); got.Count != 0 {
		t.Errorf("labels left = %d", got.Count)
	}
}

// --- Labels ---

func labelRequest(query, docID, answer string) WriteLabelsRequest {
	return WriteLabelsRequest{Labels: []Label{labelOf(query, docID, answer)}}
}

func labelOf(query, docID, answer string) Label {
	return Label{
		Query:             query,
		Document:          LabelDocument{ID: docID, Content: "text of " + docID},
		Answer:            &domlabel.Answer{Text: answer},
		IsCorrectAnswer:   true,
		IsCorrectDocument: true,
	}
}

func TestLabels_WriteSearchCount(t *testing.T) {
	h := newTestServer(t, nil)

	rr := do(t, h, http.MethodPost, "/indexes/docs/labels", WriteLabelsRequest{Labels: []Label{
		labelOf("q1", "a", "x"),
		labelOf("q2", "b", "y"),
	}})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[WriteLabelsResponse](t, rr); got.Written != 2 {
		t.Errorf("written = %d, want 2", got.Written)
	}

	rr = do(t, h, http.MethodGet, "/indexes/docs/labels/count", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[CountResponse](t, rr); got.Count != 2 {
		t.Errorf("count = %d, want 2", got.Count)
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/labels/search", SearchLabelsRequest{
		Filters: map[string]any{"query": "q2"},
	})
	expectStatus(t, rr, http.StatusOK)
	res := decodeAs[LabelListResponse](t, rr)
	if res.Count != 1 || res.Labels[0].Document.ID != "b" || res.Labels[0].Origin == "" {
		t.Errorf("got %+v", res.Labels)
	}
}

func TestLabels_Validation(t *testing.T) {
	h := newTestServer(t, nil)

	rr := do(t, h, http.MethodPost, "/indexes/docs/labels", WriteLabelsRequest{Labels: []Label{{Query: "q"}}})
	expectStatus(t, rr, http.StatusBadRequest)
	if got := decodeAs[ErrorResponse](t, rr); got.Code != codeValidationFailed {
		t.Errorf("code = %s", got.Code)
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/labels", WriteLabelsRequest{})
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestLabels_AggregateClosedDomain(t *testing.T) {
	h := newTestServer(t, nil)
	expectStatus(t, do(t, h, http.MethodPost, "/indexes/docs/labels", WriteLabelsRequest{Labels: []Label{
		labelOf("q1", "a", "x"),
		labelOf("q1", "a", "y"),
		labelOf("q1", "b", "z"),
	}}), http.StatusOK)

	rr := do(t, h, http.MethodPost, "/indexes/docs/labels/aggregate", AggregateRequest{})
	expectStatus(t, rr, http.StatusOK)
	res := decodeAs[AggregateResponse](t, rr)
	if len(res.MultiLabels) != 2 {
		t.Fatalf("groups = %d, want 2", len(res.MultiLabels))
	}
	if !reflect.DeepEqual(res.MultiLabels[0].Answers, []string{"x", "y"}) {
		t.Errorf("answers = %v", res.MultiLabels[0].Answers)
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/labels/aggregate", AggregateRequest{OpenDomain: true})
	expectStatus(t, rr, http.StatusOK)
	if res := decodeAs[AggregateResponse](t, rr); len(res.MultiLabels) != 1 || len(res.MultiLabels[0].Labels) != 3 {
		t.Errorf("open domain = %+v", res.MultiLabels)
	}
}

func TestLabels_DuplicatesAndDelete(t *testing.T) {
	h := newTestServer(t, nil)
	expectStatus(t, do(t, h, http.MethodPost, "/indexes/docs/labels", labelRequest("q1", "a", "x")), http.StatusOK)

	rr := do(t, h, http.MethodPost, "/indexes/docs/labels/duplicates", WriteLabelsRequest{Labels: []Label{
		labelOf("q1", "a", "x"),
		labelOf("q2", "a", "y"),
	}})
	expectStatus(t, rr, http.StatusOK)
	dups := decodeAs[LabelListResponse](t, rr)
	if dups.Count != 1 || dups.Labels[0].Query != "q1" {
		t.Fatalf("duplicates = %+v", dups.Labels)
	}

	rr = do(t, h, http.MethodPost, "/indexes/docs/labels/delete", DeleteRequest{IDs: []string{dups.Labels[0].ID}})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeAs[DeleteResponse](t, rr); got.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", got.Deleted)
	}
}

// --- Health, metrics, routing ---

func TestHealthCheck(t *testing.T) {
	h := newTestServer(t, nil)

	rr := do(t, h, http.MethodGet, "/health", nil)
	expectStatus(t, rr, http.StatusOK)
	got := decodeAs[HealthResponse](t, rr)
	if got.Status != "ok" || got.Version == "" || got.Checks["memory"] != "ok" {
		t.Errorf("health = %+v", got)
	}
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	health := healthuc.New().WithStore("redis", healthuc.PingerFunc(func(context.Context) error { return errors.New("down") }))
	h := NewServer(nil, nil, health, nil).Handler()

	rr := do(t, h, http.MethodGet, "/health", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if got := decodeAs[HealthResponse](t, rr); got.Checks["redis"] != "error" {
		t.Errorf("health = %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil)
	expectStatus(t, do(t, h, http.MethodGet, "/metrics", nil), http.StatusOK)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(t, nil)

	rr := do(t, h, http.MethodGet, "/collections", nil)
	expectStatus(t, rr, http.StatusNotFound)
	if got := decodeAs[ErrorResponse](t, rr); got.Code != codeNotFound {
		t.Errorf("code = %s", got.Code)
	}
}

// --- Error mapping ---

func TestHandleDomainError(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"index", fmt.Errorf("x: %w", domain.ErrIndexNotFound), http.StatusNotFound, codeIndexNotFound},
		{"label", domain.ErrLabelNotFound, http.StatusNotFound, codeLabelNotFound},
		{"unsupported filter", fmt.Errorf("qdrant: %w", domain.ErrUnsupportedFilter), http.StatusBadRequest, codeUnsupportedFilter},
		{"configuration", domain.ErrConfiguration, http.StatusBadRequest, codeValidationFailed},
		{"not supported", domain.ErrNotSupported, http.StatusNotImplemented, codeNotSupported},
		{"backend", fmt.Errorf("%w: connection refused", domain.ErrBackend), http.StatusInternalServerError, codeInternalError},
		{
			"batch write", &domain.BatchWriteError{Written: 7, Batches: 1, Err: domain.ErrBackend},
			http.StatusInternalServerError, codeBatchWriteFailed,
		},
		{
			"rejected batch", &domain.BatchWriteError{Err: fmt.Errorf("meta: %w", domain.ErrConfiguration)},
			http.StatusBadRequest, codeValidationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.handleDomainError(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody), tt.err)
			expectStatus(t, rr, tt.wantStatus)
			body := decodeAs[map[string]any](t, rr)
			if body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
		})
	}
}

func TestBatchWriteError_ReportsWritten(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	s.handleDomainError(rr, httptest.NewRequest(http.MethodPost, "/", http.NoBody),
		&domain.BatchWriteError{Written: 7, Batches: 1, Err: fmt.Errorf("%w: timeout", domain.ErrBackend)})

	body := decodeAs[map[string]any](t, rr)
	if body["written"] != float64(7) {
		t.Errorf("written = %v", body["written"])
	}
	if body["message"] != "internal error" {
		t.Errorf("backend details leaked: %v", body["message"])
	}
}
