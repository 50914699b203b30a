package chi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
)

// WriteDocuments handles POST /indexes/{index}/documents.
func (s *Server) WriteDocuments(w http.ResponseWriter, r *http.Request) {
	var req WriteDocumentsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "documents must not be empty")
		return
	}

	docs := make([]domdoc.Document, len(req.Documents))
	for i := range req.Documents {
		d, err := documentFromWire(&req.Documents[i])
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidationFailed, fmt.Sprintf("documents[%d]: %v", i, err))
			return
		}
		docs[i] = d
	}

	mode := req.DuplicateDocuments
	if q := r.URL.Query().Get("duplicate_documents"); q != "" {
		mode = q
	}

	res, err := s.documents.Write(r.Context(), chi.URLParam(r, "index"), docs, mode)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, WriteDocumentsResponse{
		Written:         res.Written,
		SkippedInBatch:  nonNil(res.SkippedInBatch),
		SkippedExisting: nonNil(res.SkippedExisting),
	})
}

// GetDocument handles GET /indexes/{index}/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), chi.URLParam(r, "index"), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if withEmbedding, _ := strconv.ParseBool(r.URL.Query().Get("return_embedding")); !withEmbedding {
		doc = doc.WithEmbedding(nil)
	}
	writeJSON(w, http.StatusOK, documentToWire(&doc))
}

// SearchDocuments handles POST /indexes/{index}/documents/search.
func (s *Server) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	var req SearchDocumentsRequest
	if !decode(w, r, &req) {
		return
	}

	docs, err := s.documents.All(r.Context(), chi.URLParam(r, "index"), req.Filters, req.ReturnEmbedding)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DocumentListResponse{
		Documents: documentsToWire(docs),
		Count:     len(docs),
	})
}

// QueryDocuments handles POST /indexes/{index}/documents/query.
func (s *Server) QueryDocuments(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	if (req.Query == "") == (len(req.QueryEmbedding) == 0) {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"exactly one of query and query_embedding is required")
		return
	}

	index := chi.URLParam(r, "index")
	var (
		docs []domdoc.Document
		err  error
	)
	if req.Query != "" {
		docs, err = s.documents.QueryByText(r.Context(), index, req.Query, req.Filters, req.TopK)
	} else {
		docs, err = s.documents.QueryByEmbedding(
			r.Context(), index, req.QueryEmbedding, req.Filters, req.TopK, req.ReturnEmbedding,
		)
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DocumentListResponse{
		Documents: documentsToWire(docs),
		Count:     len(docs),
	})
}

// CountDocuments handles POST /indexes/{index}/documents/count.
func (s *Server) CountDocuments(w http.ResponseWriter, r *http.Request) {
	var req CountRequest
	if !decode(w, r, &req) {
		return
	}

	n, err := s.documents.Count(r.Context(), chi.URLParam(r, "index"), req.Filters, req.OnlyDocumentsWithoutEmbedding)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// DeleteDocuments handles POST /indexes/{index}/documents/delete.
func (s *Server) DeleteDocuments(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decode(w, r, &req) {
		return
	}

	n, err := s.documents.Delete(r.Context(), chi.URLParam(r, "index"), req.IDs, req.Filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

// UpdateEmbeddings handles POST /indexes/{index}/documents/embeddings.
func (s *Server) UpdateEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req UpdateEmbeddingsRequest
	if !decode(w, r, &req) {
		return
	}
	updateExisting := true
	if req.UpdateExisting != nil {
		updateExisting = *req.UpdateExisting
	}

	n, err := s.documents.UpdateEmbeddings(r.Context(), chi.URLParam(r, "index"), req.Filters, updateExisting)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UpdateEmbeddingsResponse{Updated: n})
}

// DeleteIndex handles DELETE /indexes/{index}. Labels of the index go too.
func (s *Server) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if err := s.documents.DeleteIndex(r.Context(), index); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if _, err := s.labels.Delete(r.Context(), index, nil, nil); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
