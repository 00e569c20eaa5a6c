package loader

import (
	"context"
	"database/sql"

	"github.com/roach88/pentimento/internal/model"
)

// The coordinator's extension points. All of them default to no-ops; they
// exist so callers can attach behavior without the core depending on it.

// InvalidDataHandler decides what happens to a document that failed
// validation. Returning true lets the document through anyway; false
// discards it. When no handler is installed the document is discarded with
// a log line, which is the default policy.
type InvalidDataHandler func(doc model.Document, violations []model.Violation) bool

// PreWriteTrigger runs on each accepted document before it reaches the
// diff engine and may mutate it in place. Intended for synthetic test
// fuzzing and enrichment, not production logic.
type PreWriteTrigger func(doc model.Document)

// PostWriteTrigger runs inside an audited batch's transaction, after the
// writes and the history append but before commit. The tx it receives is
// the batch's own, so anything it reads - including the deltas the batch
// just produced, via Collection.HistoryByBatch - is the uncommitted state,
// and anything it writes commits atomically with the batch. An error
// aborts the whole batch.
type PostWriteTrigger interface {
	PostWrite(ctx context.Context, tx *sql.Tx, result *model.WriteResult, docs []model.Document, batchID string) error
}

// PostWriteFunc adapts a plain function to the PostWriteTrigger interface.
type PostWriteFunc func(ctx context.Context, tx *sql.Tx, result *model.WriteResult, docs []model.Document, batchID string) error

// PostWrite implements PostWriteTrigger.
func (f PostWriteFunc) PostWrite(ctx context.Context, tx *sql.Tx, result *model.WriteResult, docs []model.Document, batchID string) error {
	return f(ctx, tx, result, docs, batchID)
}

// Validator produces validation findings for a document. Satisfied by
// validate.Schema; kept as a local interface so the coordinator does not
// care where violations come from.
type Validator interface {
	Check(doc model.Document) []model.Violation
}
