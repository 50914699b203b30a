package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/domain"
	logpkg "github.com/kailas-cloud/docstore/internal/logger"
	documentuc "github.com/kailas-cloud/docstore/internal/usecase/document"
	healthuc "github.com/kailas-cloud/docstore/internal/usecase/health"
	labeluc "github.com/kailas-cloud/docstore/internal/usecase/label"
	"github.com/kailas-cloud/docstore/internal/version"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the document store over HTTP.
type Server struct {
	documents     *documentuc.Service
	labels        *labeluc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	documents *documentuc.Service,
	labels *labeluc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		documents: documents,
		labels:    labels,
		health:    health,
		logger:    logger,
	}
	// Order matters: specific sentinels wrap ErrConfiguration and must match first.
	s.errorHandlers = []errorHandler{
		batchWriteHandler,
		duplicateDocumentHandler,
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrLabelNotFound, http.StatusNotFound, codeLabelNotFound),
		sentinelHandler(domain.ErrIndexNotFound, http.StatusNotFound, codeIndexNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrUnsupportedFilter, http.StatusBadRequest, codeUnsupportedFilter),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDimMismatch),
		sentinelHandler(domain.ErrEmbedderNotConfigured, http.StatusBadRequest, codeEmbedderMissing),
		sentinelHandler(domain.ErrFilterEvaluation, http.StatusBadRequest, codeFilterEvaluation),
		sentinelHandler(domain.ErrConfiguration, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider),
		sentinelHandler(domain.ErrNotSupported, http.StatusNotImplemented, codeNotSupported),
	}
	return s
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/indexes/{index}", func(r chi.Router) {
		r.Use(indexLogger)
		r.Delete("/", s.DeleteIndex)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.WriteDocuments)
			r.Post("/search", s.SearchDocuments)
			r.Post("/query", s.QueryDocuments)
			r.Post("/count", s.CountDocuments)
			r.Post("/delete", s.DeleteDocuments)
			r.Post("/embeddings", s.UpdateEmbeddings)
			r.Get("/{id}", s.GetDocument)
		})

		r.Route("/labels", func(r chi.Router) {
			r.Post("/", s.WriteLabels)
			r.Post("/search", s.SearchLabels)
			r.Post("/aggregate", s.AggregateLabels)
			r.Post("/duplicates", s.DuplicateLabels)
			r.Post("/delete", s.DeleteLabels)
			r.Get("/count", s.CountLabels)
		})
	})
}

// Handler returns a router with the API routes and JSON 404/405 bodies.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	s.Register(r)
	return r
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:  string(report.Status),
		Version: version.Version,
		Checks:  checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// decode reads a JSON body into v. An empty body leaves v at its zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a message for the client without exposing internals.
// Caller mistakes carry their full text since it only echoes the request;
// everything else is reduced to its sentinel.
func safeDomainMessage(err error) string {
	if !errors.Is(err, domain.ErrBackend) &&
		(errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrFilterEvaluation)) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrLabelNotFound,
		domain.ErrIndexNotFound,
		domain.ErrNotFound,
		domain.ErrDuplicateDocument,
		domain.ErrEmbeddingProviderError,
		domain.ErrNotSupported,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, safeDomainMessage(err))
		return true
	}
}

// duplicateDocumentHandler answers 409 with the colliding ids.
func duplicateDocumentHandler(w http.ResponseWriter, err error) bool {
	var dup *domain.DuplicateDocumentError
	if !errors.As(err, &dup) {
		return false
	}
	writeJSON(w, http.StatusConflict, map[string]any{
		"code":    codeDuplicateDocument,
		"message": dup.Error(),
		"ids":     dup.IDs,
	})
	return true
}

// batchWriteHandler reports how many documents were committed before the
// failure. A rejected batch answers 400, any other fault 500.
func batchWriteHandler(w http.ResponseWriter, err error) bool {
	var bwe *domain.BatchWriteError
	if !errors.As(err, &bwe) {
		return false
	}
	status, code := http.StatusInternalServerError, codeBatchWriteFailed
	if errors.Is(bwe.Err, domain.ErrConfiguration) && !errors.Is(bwe.Err, domain.ErrBackend) {
		status, code = http.StatusBadRequest, codeValidationFailed
	}
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": safeDomainMessage(bwe.Err),
		"written": bwe.Written,
		"batches": bwe.Batches,
	})
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContextOr(r.Context(), s.logger)
	logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// indexLogger tags the request logger with the index being served.
func indexLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logpkg.With(r.Context(), zap.String("index", chi.URLParam(r, "index")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
