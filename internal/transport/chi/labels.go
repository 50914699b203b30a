package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
)

// WriteLabels handles POST /indexes/{index}/labels.
func (s *Server) WriteLabels(w http.ResponseWriter, r *http.Request) {
	labels, mode, ok := s.decodeLabels(w, r)
	if !ok {
		return
	}

	n, err := s.labels.WriteLabels(r.Context(), chi.URLParam(r, "index"), labels, mode)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, WriteLabelsResponse{Written: n})
}

// SearchLabels handles POST /indexes/{index}/labels/search.
func (s *Server) SearchLabels(w http.ResponseWriter, r *http.Request) {
	var req SearchLabelsRequest
	if !decode(w, r, &req) {
		return
	}

	labels, err := s.labels.AllLabels(r.Context(), chi.URLParam(r, "index"), req.Filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LabelListResponse{Labels: labelsToWire(labels), Count: len(labels)})
}

// AggregateLabels handles POST /indexes/{index}/labels/aggregate.
func (s *Server) AggregateLabels(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if !decode(w, r, &req) {
		return
	}

	groups, err := s.labels.Aggregated(r.Context(), chi.URLParam(r, "index"), req.Filters, domlabel.Options{
		OpenDomain:      req.OpenDomain,
		DropNegative:    req.DropNegativeLabels,
		DropNoAnswer:    req.DropNoAnswers,
		AggregateByMeta: req.AggregateByMeta,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	out := make([]MultiLabel, len(groups))
	for i := range groups {
		out[i] = multiLabelToWire(&groups[i])
	}
	writeJSON(w, http.StatusOK, AggregateResponse{MultiLabels: out})
}

// DuplicateLabels handles POST /indexes/{index}/labels/duplicates. Nothing is written.
func (s *Server) DuplicateLabels(w http.ResponseWriter, r *http.Request) {
	labels, _, ok := s.decodeLabels(w, r)
	if !ok {
		return
	}

	dups, err := s.labels.DuplicateLabels(r.Context(), chi.URLParam(r, "index"), labels)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LabelListResponse{Labels: labelsToWire(dups), Count: len(dups)})
}

// DeleteLabels handles POST /indexes/{index}/labels/delete.
func (s *Server) DeleteLabels(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decode(w, r, &req) {
		return
	}

	n, err := s.labels.Delete(r.Context(), chi.URLParam(r, "index"), req.IDs, req.Filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

// CountLabels handles GET /indexes/{index}/labels/count.
func (s *Server) CountLabels(w http.ResponseWriter, r *http.Request) {
	n, err := s.labels.Count(r.Context(), chi.URLParam(r, "index"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) decodeLabels(w http.ResponseWriter, r *http.Request) ([]domlabel.Label, string, bool) {
	var req WriteLabelsRequest
	if !decode(w, r, &req) {
		return nil, "", false
	}
	if len(req.Labels) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "labels must not be empty")
		return nil, "", false
	}
	labels, err := labelsFromWire(req.Labels)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return nil, "", false
	}
	mode := req.DuplicateDocuments
	if q := r.URL.Query().Get("duplicate_documents"); q != "" {
		mode = q
	}
	return labels, mode, true
}
