// Package duplicate decides which documents of a write batch reach the backend.
package duplicate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/domain"
	"github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/label"
)

// Mode is the policy for documents whose id already exists in the index.
type Mode string

const (
	// Skip ignores documents whose id already exists.
	Skip Mode = "skip"
	// Overwrite upserts by id without checking.
	Overwrite Mode = "overwrite"
	// Fail rejects the whole batch when any id already exists.
	Fail Mode = "fail"
)

// ParseMode validates a duplicate mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Skip, Overwrite, Fail:
		return Mode(s), nil
	}
	return "", fmt.Errorf("duplicate_documents %q must be one of skip, overwrite, fail: %w", s, domain.ErrConfiguration)
}

// Lookup returns the documents among ids that already exist in the index.
type Lookup func(ctx context.Context, ids []string) ([]document.Document, error)

// Result is the outcome of Resolve.
type Result struct {
	Documents []document.Document
	// InBatch lists ids dropped because they repeated earlier in the batch.
	InBatch []string
	// Existing lists ids skipped because the index already holds them.
	Existing []string
}

// DropInBatch keeps the first occurrence of every id and returns the ids of
// dropped repeats, in input order.
func DropInBatch(docs []document.Document) ([]document.Document, []string) {
	seen := make(map[string]struct{}, len(docs))
	kept := make([]document.Document, 0, len(docs))
	var dropped []string
	for _, d := range docs {
		if _, dup := seen[d.ID()]; dup {
			dropped = append(dropped, d.ID())
			continue
		}
		seen[d.ID()] = struct{}{}
		kept = append(kept, d)
	}
	return kept, dropped
}

// Resolve applies mode to candidates. In-batch repeats are always dropped and
// logged first. Skip and Fail consult lookup; Fail returns a
// *domain.DuplicateDocumentError before anything is written. Output order
// follows input order.
func Resolve(
	ctx context.Context, index string, candidates []document.Document,
	lookup Lookup, mode Mode, logger *zap.Logger,
) (Result, error) {
	kept, dropped := DropInBatch(candidates)
	for _, id := range dropped {
		logger.Warn("Duplicate document in batch, keeping first occurrence",
			zap.String("index", index),
			zap.String("id", id),
		)
	}

	res := Result{InBatch: dropped}
	if mode == Overwrite || len(kept) == 0 {
		res.Documents = kept
		return res, nil
	}

	ids := make([]string, len(kept))
	for i := range kept {
		ids[i] = kept[i].ID()
	}
	existing, err := lookup(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("lookup existing ids: %w", err)
	}

	existingIDs := make(map[string]struct{}, len(existing))
	for i := range existing {
		existingIDs[existing[i].ID()] = struct{}{}
	}
	var found []string
	for _, id := range ids {
		if _, ok := existingIDs[id]; ok {
			found = append(found, id)
		}
	}

	if mode == Fail {
		if len(found) > 0 {
			return Result{}, domain.NewDuplicateDocument(index, found)
		}
		res.Documents = kept
		return res, nil
	}

	res.Existing = found
	res.Documents = make([]document.Document, 0, len(kept)-len(found))
	for _, d := range kept {
		if _, ok := existingIDs[d.ID()]; ok {
			continue
		}
		res.Documents = append(res.Documents, d)
	}
	if len(found) > 0 {
		logger.Info("Skipping documents that already exist",
			zap.String("index", index),
			zap.Strings("ids", found),
		)
	}
	return res, nil
}

// DuplicateLabels returns every label of incoming whose id occurs more than once
// in incoming or is already present in existing. Nothing is mutated.
func DuplicateLabels(incoming, existing []label.Label) []label.Label {
	counts := make(map[string]int, len(incoming))
	for i := range incoming {
		counts[incoming[i].ID()]++
	}
	dup := make(map[string]struct{})
	for id, n := range counts {
		if n > 1 {
			dup[id] = struct{}{}
		}
	}
	for i := range existing {
		if _, ok := counts[existing[i].ID()]; ok {
			dup[existing[i].ID()] = struct{}{}
		}
	}

	var out []label.Label
	for i := range incoming {
		if _, ok := dup[incoming[i].ID()]; ok {
			out = append(out, incoming[i])
		}
	}
	return out
}
