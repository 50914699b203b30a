package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrLabelNotFound signals a missing label.
	ErrLabelNotFound = errors.New("label not found")
	// ErrIndexNotFound signals a missing index.
	ErrIndexNotFound = errors.New("index not found")

	// ErrConfiguration signals an invalid argument or store setting, detected before any backend call.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnsupportedFilter signals a filter operator the evaluator or backend cannot express.
	ErrUnsupportedFilter = fmt.Errorf("unsupported filter: %w", ErrConfiguration)
	// ErrVectorDimMismatch signals an embedding whose length differs from the store dimension.
	ErrVectorDimMismatch = fmt.Errorf("vector dimension mismatch: %w", ErrConfiguration)

	// ErrFilterEvaluation signals a malformed filter tree.
	ErrFilterEvaluation = errors.New("filter evaluation error")
	// ErrDuplicateDocument signals an id collision in fail mode.
	ErrDuplicateDocument = errors.New("duplicate document")
	// ErrBackend signals a transport or storage fault of the backing store.
	ErrBackend = errors.New("backend error")
	// ErrNotSupported signals an operation the configured backend does not provide.
	ErrNotSupported = errors.New("not supported by backend")

	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrEmbedderNotConfigured signals a text operation without an embedding provider.
	ErrEmbedderNotConfigured = fmt.Errorf("embedder not configured: %w", ErrConfiguration)
)

// DuplicateDocumentError wraps ErrDuplicateDocument with the colliding ids.
type DuplicateDocumentError struct {
	Index string
	IDs   []string
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("%s: index %q already contains ids [%s]",
		ErrDuplicateDocument.Error(), e.Index, strings.Join(e.IDs, ", "))
}

func (e *DuplicateDocumentError) Unwrap() error { return ErrDuplicateDocument }

// NewDuplicateDocument creates a duplicate document error.
func NewDuplicateDocument(index string, ids []string) error {
	return &DuplicateDocumentError{Index: index, IDs: ids}
}

// FilterEvaluationError describes where normalization of a raw filter failed.
type FilterEvaluationError struct {
	Path   string
	Reason string
}

func (e *FilterEvaluationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrFilterEvaluation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s at %s: %s", ErrFilterEvaluation.Error(), e.Path, e.Reason)
}

func (e *FilterEvaluationError) Unwrap() error { return ErrFilterEvaluation }

// NewFilterEvaluation creates a filter evaluation error.
func NewFilterEvaluation(path, reason string) error {
	return &FilterEvaluationError{Path: path, Reason: reason}
}

// BatchWriteError reports how much of a batched write was committed before Err.
// Earlier batches are not rolled back.
type BatchWriteError struct {
	Written int
	Batches int
	Err     error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("batch write failed after %d batches (%d documents written): %v",
		e.Batches, e.Written, e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }
